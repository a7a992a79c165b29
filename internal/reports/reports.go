// Package reports renders reconciliation state into files operators hand
// around outside the system: the exception queue and the outcome rows of an
// automation run as XLSX workbooks, and a run's counter summary as a
// one-page PDF. Every export is read-only and tenant-scoped.
package reports

import (
	"io"

	"github.com/xuri/excelize/v2"

	"bank-reconciliation-core/internal/store"
	apperrors "bank-reconciliation-core/pkg/errors"
	"bank-reconciliation-core/pkg/logger"
)

// Config controls workbook and summary rendering.
type Config struct {
	// MaxQueueRows caps how many exceptions one workbook holds.
	MaxQueueRows int
	// DateFormat is the layout for date cells.
	DateFormat string
}

// DefaultConfig returns the rendering defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxQueueRows: 1000,
		DateFormat:   "2006-01-02",
	}
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.MaxQueueRows <= 0 {
		return apperrors.ValidationError(apperrors.CodeOutOfRange, "maxQueueRows", c.MaxQueueRows)
	}
	if c.DateFormat == "" {
		return apperrors.ValidationError(apperrors.CodeMissingPayload, "dateFormat", nil)
	}
	return nil
}

// Service renders the exports. Safe for concurrent use.
type Service struct {
	store *store.Store
	cfg   *Config
	log   logger.Logger
}

// New builds the report service. A nil config selects DefaultConfig.
func New(st *store.Store, cfg *Config, log logger.Logger) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Service{store: st, cfg: cfg, log: log.WithComponent("reports")}, nil
}

const defaultSheet = "Sheet1"

// newWorkbook opens a fresh workbook with a single named sheet.
func newWorkbook(sheet string) (*excelize.File, error) {
	wb := excelize.NewFile()
	idx, err := wb.NewSheet(sheet)
	if err != nil {
		return nil, err
	}
	wb.SetActiveSheet(idx)
	if err := wb.DeleteSheet(defaultSheet); err != nil {
		return nil, err
	}
	return wb, nil
}

// workbookStyles holds the style ids shared by both XLSX exports.
type workbookStyles struct {
	header int
	data   int
	amount int
}

func buildStyles(wb *excelize.File) (workbookStyles, error) {
	borders := []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
	}
	var st workbookStyles
	var err error
	st.header, err = wb.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF"},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Border: borders,
	})
	if err != nil {
		return st, err
	}
	st.data, err = wb.NewStyle(&excelize.Style{Border: borders})
	if err != nil {
		return st, err
	}
	st.amount, err = wb.NewStyle(&excelize.Style{NumFmt: 4, Border: borders})
	return st, err
}

// cellRef converts 1-based coordinates into an A1 reference.
func cellRef(col, row int) string {
	ref, _ := excelize.CoordinatesToCellName(col, row)
	return ref
}

// colName converts a 1-based column index into its letter name.
func colName(col int) string {
	name, _ := excelize.ColumnNumberToName(col)
	return name
}

// setRow writes one sheet row starting at column A.
func setRow(wb *excelize.File, sheet string, row int, values []interface{}) error {
	return wb.SetSheetRow(sheet, cellRef(1, row), &values)
}

// styleRow applies a style across the first n columns of a row.
func styleRow(wb *excelize.File, sheet string, row, cols, style int) error {
	return wb.SetCellStyle(sheet, cellRef(1, row), cellRef(cols, row), style)
}

// flush finishes the workbook into the writer.
func flush(wb *excelize.File, w io.Writer, what string) error {
	if err := wb.Write(w); err != nil {
		return apperrors.InternalError("writing "+what, err)
	}
	return nil
}

func optUint(v *uint) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
