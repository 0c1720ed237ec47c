package domain

import "fmt"

// Endpoints are the addresses a deployed stage is reachable under.
type Endpoints struct {
	InvokeURL    string `json:"invoke_url"`
	StageARN     string `json:"stage_arn"`
	ExecutionARN string `json:"execution_arn"`
}

// StageEndpoints derives the endpoints of a stage. accountID may be empty,
// in which case the execution ARN carries a wildcard account.
func StageEndpoints(region, accountID, apiID, stageName string) Endpoints {
	if accountID == "" {
		accountID = "*"
	}
	return Endpoints{
		InvokeURL:    fmt.Sprintf("https://%s.execute-api.%s.amazonaws.com/%s", apiID, region, stageName),
		StageARN:     StageARN(region, apiID, stageName),
		ExecutionARN: fmt.Sprintf("arn:aws:execute-api:%s:%s:%s/%s", region, accountID, apiID, stageName),
	}
}

// StageARN is the resource ARN of a stage, used for tagging.
func StageARN(region, apiID, stageName string) string {
	return fmt.Sprintf("arn:aws:apigateway:%s::/restapis/%s/stages/%s", region, apiID, stageName)
}
