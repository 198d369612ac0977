package cohorts

import (
	"github.com/CohortBias-25-26J/cohort-bias-backend/internal/cohorts/domain"
)

type createReq struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Query       string `json:"query"`
	CreatedBy   string `json:"created_by"`
}

type cohortResp struct {
	CohortDefinitionID int64                    `json:"cohort_definition_id"`
	Metadata           *domain.CohortDefinition `json:"metadata,omitempty"`
	Members            int                      `json:"members"`
}

type statsResp struct {
	CohortDefinitionID int64            `json:"cohort_definition_id"`
	Stats              domain.ResultSet `json:"stats"`
}

type variableResp struct {
	CohortDefinitionID int64              `json:"cohort_definition_id"`
	Variable           string             `json:"variable"`
	Result             domain.StatsResult `json:"result"`
}

type compareResp struct {
	Left  statsResp `json:"left"`
	Right statsResp `json:"right"`
}
