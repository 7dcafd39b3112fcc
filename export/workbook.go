// Package export renders cases as an XLSX workbook.
package export

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"leaseexit/models"
)

const (
	SheetCases     = "Cases"
	SheetHistory   = "History"
	SheetApprovals = "Approvals"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var (
	caseHeader     = []interface{}{"Case ID", "Lease ID", "Property Address", "Exit Date", "Reason", "Status", "Current Step", "Pending Approvers", "Forms", "Created At", "Updated At"}
	historyHeader  = []interface{}{"Case ID", "Lease ID", "Step", "Action", "Role", "Timestamp"}
	approvalHeader = []interface{}{"Case ID", "Lease ID", "Role", "Decision", "Comments", "Timestamp"}
)

// CasesWorkbook builds a workbook with one row per case plus the history and
// approval decisions of every case.
func CasesWorkbook(cases []models.Case) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetCases); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{SheetHistory, SheetApprovals} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	caseRows := [][]interface{}{caseHeader}
	historyRows := [][]interface{}{historyHeader}
	approvalRows := [][]interface{}{approvalHeader}

	for _, c := range cases {
		id := c.ID.Hex()
		caseRows = append(caseRows, []interface{}{
			id,
			c.LeaseID,
			c.PropertyAddress,
			c.ExitDate,
			c.ReasonForExit,
			string(c.Status),
			string(c.Workflow.CurrentStep),
			pendingApprovers(c),
			len(c.Forms),
			formatTime(c.CreatedAt),
			formatTime(c.UpdatedAt),
		})
		for _, h := range c.Workflow.History {
			historyRows = append(historyRows, []interface{}{
				id, c.LeaseID, string(h.Step), h.Action, h.Role.DisplayName(), formatTime(h.Timestamp),
			})
		}
		for _, role := range sortedRoles(c.Workflow.Approvals) {
			a := c.Workflow.Approvals[role]
			approvalRows = append(approvalRows, []interface{}{
				id, c.LeaseID, role.DisplayName(), string(a.Decision), a.Comments, formatTime(a.Timestamp),
			})
		}
	}

	for sheet, rows := range map[string][][]interface{}{
		SheetCases:     caseRows,
		SheetHistory:   historyRows,
		SheetApprovals: approvalRows,
	} {
		if err := writeRows(f, sheet, rows); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// WriteCases streams the workbook to w.
func WriteCases(w io.Writer, cases []models.Case) error {
	f, err := CasesWorkbook(cases)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func pendingApprovers(c models.Case) string {
	if c.Workflow.CurrentStep != models.StepPJMReviewCompleted {
		return ""
	}
	var names []string
	for _, r := range c.Workflow.RequiredApprovers {
		if _, ok := c.Workflow.Approvals[r]; !ok {
			names = append(names, r.DisplayName())
		}
	}
	return strings.Join(names, ", ")
}

func sortedRoles(m map[models.Role]models.ApprovalEntry) []models.Role {
	roles := make([]models.Role, 0, len(m))
	for r := range m {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool {
		return m[roles[i]].Timestamp.Before(m[roles[j]].Timestamp)
	})
	return roles
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
