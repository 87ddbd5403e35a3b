package transform

import (
	"strings"

	"parcelhub/internal/locator"
)

// Vars are the values substituted into transformation scripts
type Vars struct {
	ProcessingDate   locator.ProcessingDate
	Project          string
	StagingDataset   string
	WarehouseDataset string
}

// Render replaces the {{processing_date}}, {{date_tag}}, {{project}},
// {{staging_dataset}} and {{warehouse_dataset}} tokens in sqlText. Unknown
// tokens are left untouched.
func (v Vars) Render(sqlText string) string {
	r := strings.NewReplacer(
		"{{processing_date}}", v.ProcessingDate.String(),
		"{{date_tag}}", v.ProcessingDate.Compact(),
		"{{project}}", v.Project,
		"{{staging_dataset}}", v.StagingDataset,
		"{{warehouse_dataset}}", v.WarehouseDataset,
	)
	return r.Replace(sqlText)
}
