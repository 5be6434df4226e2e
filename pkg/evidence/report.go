package evidence

import (
	"context"

	"github.com/Raoof128/ILAE/pkg/engine"
)

// PlatformBreakdown summarizes step outcomes for one platform.
type PlatformBreakdown struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// ComplianceReport summarizes the whole evidence corpus for auditors.
type ComplianceReport struct {
	// Identities is the number of identities with evidence on record.
	Identities int `json:"identities"`

	// TotalRecords is the total number of chained records.
	TotalRecords int `json:"total_records"`

	// Steps tallies terminal step records by status.
	Steps PlatformBreakdown `json:"steps"`

	// Runs tallies run-summary records by final status.
	Runs map[string]int `json:"runs"`

	// Platforms breaks down terminal step records per platform.
	Platforms map[engine.Platform]*PlatformBreakdown `json:"platforms"`

	// BrokenChains lists identities whose chains failed verification.
	BrokenChains []string `json:"broken_chains,omitempty"`
}

// Report builds a compliance report over every chain in the store, verifying
// each chain as it goes.
func (c *Chain) Report(ctx context.Context) (*ComplianceReport, error) {
	records, err := c.store.ListAllEvidence(ctx)
	if err != nil {
		return nil, err
	}

	report := &ComplianceReport{
		Runs:      make(map[string]int),
		Platforms: make(map[engine.Platform]*PlatformBreakdown),
	}

	identities := make(map[string]bool)
	for _, record := range records {
		report.TotalRecords++
		identities[record.IdentityKey] = true

		switch record.Kind {
		case engine.EvidenceKindStep:
			breakdown, ok := report.Platforms[record.Platform]
			if !ok {
				breakdown = &PlatformBreakdown{}
				report.Platforms[record.Platform] = breakdown
			}
			switch record.Outcome {
			case engine.StepStatusSucceeded:
				report.Steps.Succeeded++
				breakdown.Succeeded++
			case engine.StepStatusFailed:
				report.Steps.Failed++
				breakdown.Failed++
			case engine.StepStatusSkipped:
				report.Steps.Skipped++
				breakdown.Skipped++
			}
		case engine.EvidenceKindRunSummary:
			report.Runs[record.Detail["status"]]++
		}
	}
	report.Identities = len(identities)

	for identityKey := range identities {
		if err := c.Verify(ctx, identityKey); err != nil {
			report.BrokenChains = append(report.BrokenChains, identityKey)
		}
	}

	return report, nil
}
