// Package report renders admin exports of relationship data.
package report

import (
	"io"
	"time"

	"github.com/divelog/server/model"
	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

const (
	SheetRelationships = "Relationships"
	SheetSummary       = "Summary"
)

var relationshipHeader = []interface{}{
	"ID", "Subject ID", "Subject", "Object ID", "Object",
	"Status", "Reason", "Requested At", "Evaluated At", "Mirror Pending",
}

// WriteRelationships writes rels as an xlsx workbook to w: one row per edge on
// the Relationships sheet and per-status counts on the Summary sheet.
// accounts resolves usernames; unknown IDs are left blank.
func WriteRelationships(w io.Writer, rels []model.Relationship, accounts map[int64]*model.Account) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetRelationships); err != nil {
		return errors.Wrap(err, "report: rename sheet")
	}
	if err := f.SetSheetRow(SheetRelationships, "A1", &relationshipHeader); err != nil {
		return errors.Wrap(err, "report: header")
	}

	counts := map[model.RelationshipStatus]int{}
	for i, rel := range rels {
		counts[rel.Status]++
		evaluated := ""
		if rel.EvaluatedAt != nil {
			evaluated = rel.EvaluatedAt.UTC().Format(time.RFC3339)
		}
		row := []interface{}{
			rel.ID,
			rel.SubjectID, username(accounts, rel.SubjectID),
			rel.ObjectID, username(accounts, rel.ObjectID),
			string(rel.Status), rel.Reason,
			rel.RequestedAt.UTC().Format(time.RFC3339),
			evaluated,
			rel.MirrorPending,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return errors.Wrap(err, "report: cell name")
		}
		if err := f.SetSheetRow(SheetRelationships, cell, &row); err != nil {
			return errors.Wrapf(err, "report: row %d", i+2)
		}
	}

	if _, err := f.NewSheet(SheetSummary); err != nil {
		return errors.Wrap(err, "report: summary sheet")
	}
	summary := [][]interface{}{
		{"Status", "Count"},
		{string(model.StatusPending), counts[model.StatusPending]},
		{string(model.StatusApproved), counts[model.StatusApproved]},
		{string(model.StatusRejected), counts[model.StatusRejected]},
		{"total", len(rels)},
	}
	for i := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(SheetSummary, cell, &summary[i]); err != nil {
			return errors.Wrap(err, "report: summary row")
		}
	}

	if err := f.Write(w); err != nil {
		return errors.Wrap(err, "report: write workbook")
	}
	return nil
}

func username(accounts map[int64]*model.Account, id int64) string {
	if acc, ok := accounts[id]; ok && acc != nil {
		return acc.Username
	}
	return ""
}
