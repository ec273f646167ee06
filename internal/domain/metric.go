package domain

import "time"

// LanguageFilter selects which repositories count towards language statistics
type LanguageFilter string

const (
	LanguageFilterAll       LanguageFilter = "all"
	LanguageFilterTDD       LanguageFilter = "tdd"
	LanguageFilterTDDDevOps LanguageFilter = "tdd-devops"
)

// Summary describes the merged dataset as a whole
type Summary struct {
	MinDate         time.Time `json:"minDate"`
	MaxDate         time.Time `json:"maxDate"`
	SampleCount     int       `json:"sampleCount"`
	PopulationCount int       `json:"populationCount"`
	TDDCount        int       `json:"tddCount"`
	TDDDevOpsCount  int       `json:"tddDevOpsCount"`
	Episodes        int       `json:"episodes"`
}

// RepoStat is one entry of the most-updated repositories ranking
type RepoStat struct {
	Repo           string `json:"repo"`
	CommitsInRange int    `json:"commitsInRange"`
	TotalCommits   int    `json:"totalCommits"`
}

// LanguageStat is one entry of a language popularity ranking
type LanguageStat struct {
	Language   string `json:"language"`
	RepoCount  int    `json:"repoCount"`
	TotalBytes int64  `json:"totalBytes"`
}
