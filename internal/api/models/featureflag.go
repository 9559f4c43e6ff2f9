package models

// FlagStatus is the evaluation result for one flag in one environment.
type FlagStatus struct {
	Key         string `json:"key"`
	Environment string `json:"environment"`
	Enabled     bool   `json:"enabled"`
}
