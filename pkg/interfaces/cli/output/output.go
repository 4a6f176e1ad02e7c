// Package output renders ledger results for the terminal as styled tables,
// JSON or CSV.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/vsinha/affect/pkg/application/services/budget"
	"github.com/vsinha/affect/pkg/application/services/hierarchy"
	"github.com/vsinha/affect/pkg/application/services/staging"
	"github.com/vsinha/affect/pkg/domain/entities"
)

// Supported formats
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Config holds configuration for output generation
type Config struct {
	Format string
	Writer io.Writer
}

// Validate rejects unknown formats
func (c Config) Validate() error {
	switch c.Format {
	case FormatText, FormatJSON, FormatCSV:
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", c.Format)
	}
}

// CellView is the serialized form of a matrix cell
type CellView struct {
	Token        string `json:"token"`
	Owner        string `json:"owner"`
	OwnerName    string `json:"owner_name"`
	Consumer     string `json:"consumer"`
	ConsumerName string `json:"consumer_name"`
	Section      string `json:"section,omitempty"`
	EdgeID       int64  `json:"edge_id,omitempty"`
	Quantity     string `json:"quantity"`
	Affected     bool   `json:"affected"`
	Remaining    string `json:"remaining"`
	Affectable   bool   `json:"affectable"`
	State        string `json:"state"`
}

// MatrixView is the serialized form of a staging matrix
type MatrixView struct {
	ID        string     `json:"id"`
	Mode      string     `json:"mode"`
	ProjectID int64      `json:"project_id"`
	Section   string     `json:"section,omitempty"`
	Cells     []CellView `json:"cells"`
}

// NewMatrixView flattens a matrix
func NewMatrixView(m *staging.Matrix) MatrixView {
	view := MatrixView{
		ID:        m.ID.String(),
		Mode:      m.Mode.String(),
		ProjectID: m.ProjectID,
		Cells:     make([]CellView, 0, len(m.Cells)),
	}
	if !m.Section.IsZero() {
		view.Section = m.Section.String()
	}
	for _, c := range m.Cells {
		cv := CellView{
			Token:        c.Token.String(),
			Owner:        c.Owner.String(),
			OwnerName:    c.OwnerName,
			Consumer:     c.Consumer.String(),
			ConsumerName: c.ConsumerName,
			EdgeID:       c.EdgeID,
			Quantity:     c.Quantity.String(),
			Affected:     c.Affected,
			Remaining:    c.Remaining.String(),
			Affectable:   c.Affectable,
			State:        c.State.String(),
		}
		if !c.Section.IsZero() {
			cv.Section = c.Section.String()
		}
		view.Cells = append(view.Cells, cv)
	}
	return view
}

// Matrix writes a staging matrix
func Matrix(m *staging.Matrix, config Config) error {
	switch config.Format {
	case FormatJSON:
		return writeJSON(config.Writer, NewMatrixView(m))
	case FormatCSV:
		return writeMatrixCSV(config.Writer, NewMatrixView(m))
	case FormatText:
		_, err := io.WriteString(config.Writer, RenderMatrix(m))
		return err
	default:
		return config.Validate()
	}
}

// RenderMatrix draws owners as rows and consumers as columns. Quantitative
// cells show "quantity (+remaining)"; launch cells show a claim marker.
func RenderMatrix(m *staging.Matrix) string {
	title := fmt.Sprintf("%s matrix, project %d", m.Mode, m.ProjectID)
	if !m.Section.IsZero() {
		title += ", " + m.Section.String()
	}

	consumerNames := make(map[entities.Ref]string, len(m.Consumers))
	ownerNames := make(map[entities.Ref]string, len(m.Owners))
	for _, c := range m.Cells {
		consumerNames[c.Consumer] = c.ConsumerName
		ownerNames[c.Owner] = c.OwnerName
	}

	t := Table{
		Title:      title,
		Headers:    []string{"Owner"},
		RightAlign: map[int]bool{},
	}
	for i, consumer := range m.Consumers {
		t.Headers = append(t.Headers, label(consumerNames[consumer], consumer))
		if m.Mode.Quantitative() {
			t.RightAlign[i+1] = true
		}
	}
	for _, owner := range m.Owners {
		row := []string{label(ownerNames[owner], owner)}
		for _, consumer := range m.Consumers {
			cell, ok := m.At(owner, consumer)
			if !ok {
				row = append(row, mutedStyle.Render("·"))
				continue
			}
			row = append(row, renderCell(m.Mode, cell))
		}
		t.Rows = append(t.Rows, row)
	}
	return RenderTable(t)
}

func renderCell(mode entities.Mode, c staging.Cell) string {
	if !mode.Quantitative() {
		switch {
		case c.Affected:
			return okStyle.Render("■")
		case c.Affectable:
			return "□"
		default:
			return mutedStyle.Render("·")
		}
	}
	text := Amount(c.Quantity)
	hint := fmt.Sprintf(" (+%s)", Amount(c.Remaining))
	if c.Remaining.Sign() <= 0 {
		return text + warnStyle.Render(hint)
	}
	if !c.Exists() {
		return mutedStyle.Render(text + hint)
	}
	return text + mutedStyle.Render(hint)
}

func label(name string, ref entities.Ref) string {
	if name == "" {
		return ref.String()
	}
	return fmt.Sprintf("%s [%s]", name, ref)
}

func writeMatrixCSV(w io.Writer, view MatrixView) error {
	cw := csv.NewWriter(w)
	header := []string{"token", "owner", "owner_name", "consumer", "consumer_name", "section",
		"edge_id", "quantity", "affected", "remaining", "affectable", "state"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, c := range view.Cells {
		record := []string{
			c.Token, c.Owner, c.OwnerName, c.Consumer, c.ConsumerName, c.Section,
			strconv.FormatInt(c.EdgeID, 10), c.Quantity, strconv.FormatBool(c.Affected),
			c.Remaining, strconv.FormatBool(c.Affectable), c.State,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CategoryView is the serialized form of a category balance
type CategoryView struct {
	CategoryID int64  `json:"category_id"`
	Name       string `json:"name"`
	Unit       string `json:"unit"`
	Available  string `json:"available"`
	Reserved   string `json:"reserved"`
	Remaining  string `json:"remaining"`
	Expense    string `json:"expense"`
	Gain       string `json:"gain"`
	ValuedGain string `json:"valued_gain"`
}

// SummaryView is the serialized form of a section budget summary
type SummaryView struct {
	Section       string         `json:"section"`
	Name          string         `json:"name"`
	State         string         `json:"state"`
	Categories    []CategoryView `json:"categories"`
	TotalReserved string         `json:"total_reserved"`
	TotalExpense  string         `json:"total_expense"`
	Gain          string         `json:"gain"`
	ValuedGain    string         `json:"valued_gain"`
}

// NewSummaryView flattens a budget summary
func NewSummaryView(s *budget.Summary) SummaryView {
	view := SummaryView{
		TotalReserved: s.TotalReserved.String(),
		TotalExpense:  s.TotalExpense.String(),
		Gain:          s.Gain.String(),
		ValuedGain:    s.ValuedGain.String(),
	}
	if s.Section != nil {
		view.Section = entities.NewRef(s.Section.Kind, s.Section.ID).String()
		view.Name = s.Section.Name
		view.State = s.Section.State.String()
	}
	for _, c := range s.Categories {
		view.Categories = append(view.Categories, CategoryView{
			CategoryID: c.Category.ID,
			Name:       c.Category.Name,
			Unit:       c.Category.Unit.String(),
			Available:  c.Available.String(),
			Reserved:   c.Reserved.String(),
			Remaining:  c.Remaining.String(),
			Expense:    c.Expense.String(),
			Gain:       c.Gain.String(),
			ValuedGain: c.ValuedGain.String(),
		})
	}
	return view
}

// Summary writes a section budget summary
func Summary(s *budget.Summary, config Config) error {
	switch config.Format {
	case FormatJSON:
		return writeJSON(config.Writer, NewSummaryView(s))
	case FormatCSV:
		return writeSummaryCSV(config.Writer, NewSummaryView(s))
	case FormatText:
		_, err := io.WriteString(config.Writer, RenderSummary(s))
		return err
	default:
		return config.Validate()
	}
}

// RenderSummary draws one row per category and a totals row
func RenderSummary(s *budget.Summary) string {
	title := "Budget"
	if s.Section != nil {
		title = fmt.Sprintf("%s [%s] %s", s.Section.Name, entities.NewRef(s.Section.Kind, s.Section.ID), s.Section.State)
	}
	t := Table{
		Title:      title,
		Headers:    []string{"Category", "Unit", "Available", "Reserved", "Remaining", "Expense", "Gain", "Valued"},
		RightAlign: map[int]bool{2: true, 3: true, 4: true, 5: true, 6: true, 7: true},
	}
	for _, c := range s.Categories {
		t.Rows = append(t.Rows, []string{
			c.Category.Name,
			c.Category.Unit.String(),
			Amount(c.Available),
			Amount(c.Reserved),
			Amount(c.Remaining),
			Amount(c.Expense),
			Gain(c.Gain),
			Gain(c.ValuedGain),
		})
	}
	t.Rows = append(t.Rows, []string{
		headerStyle.Render("Total"), "", "",
		Amount(s.TotalReserved), "",
		Amount(s.TotalExpense),
		Gain(s.Gain),
		Gain(s.ValuedGain),
	})
	return RenderTable(t)
}

func writeSummaryCSV(w io.Writer, view SummaryView) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"category_id", "name", "unit", "available", "reserved", "remaining",
		"expense", "gain", "valued_gain"}); err != nil {
		return err
	}
	for _, c := range view.Categories {
		if err := cw.Write([]string{strconv.FormatInt(c.CategoryID, 10), c.Name, c.Unit, c.Available,
			c.Reserved, c.Remaining, c.Expense, c.Gain, c.ValuedGain}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// EdgeView is the serialized form of an edge with its derived values
type EdgeView struct {
	ID         int64  `json:"id"`
	Mode       string `json:"mode"`
	Owner      string `json:"owner"`
	Consumer   string `json:"consumer"`
	Section    string `json:"section,omitempty"`
	Quantity   string `json:"quantity"`
	Affected   bool   `json:"affected"`
	Active     bool   `json:"active"`
	Remaining  string `json:"remaining"`
	Affectable bool   `json:"affectable"`
	State      string `json:"state"`
}

// NewEdgeView combines an edge with its remaining quantity and state
func NewEdgeView(e *entities.AllocationEdge, remaining decimal.Decimal, affectable bool, state entities.EdgeState) EdgeView {
	view := EdgeView{
		ID:         e.ID,
		Mode:       e.Mode.String(),
		Owner:      e.Owner.String(),
		Consumer:   e.Consumer.String(),
		Quantity:   e.Quantity.String(),
		Affected:   e.Affected,
		Active:     e.Active,
		Remaining:  remaining.String(),
		Affectable: affectable,
		State:      state.String(),
	}
	if !e.Section.IsZero() {
		view.Section = e.Section.String()
	}
	return view
}

// Edge writes one edge
func Edge(view EdgeView, config Config) error {
	switch config.Format {
	case FormatJSON:
		return writeJSON(config.Writer, view)
	case FormatCSV:
		cw := csv.NewWriter(config.Writer)
		_ = cw.Write([]string{"id", "mode", "owner", "consumer", "section", "quantity", "affected", "active",
			"remaining", "affectable", "state"})
		_ = cw.Write([]string{strconv.FormatInt(view.ID, 10), view.Mode, view.Owner, view.Consumer, view.Section,
			view.Quantity, strconv.FormatBool(view.Affected), strconv.FormatBool(view.Active), view.Remaining,
			strconv.FormatBool(view.Affectable), view.State})
		cw.Flush()
		return cw.Error()
	case FormatText:
		pairs := [][2]string{
			{"Edge", fmt.Sprintf("%d (%s)", view.ID, view.Mode)},
			{"Owner", view.Owner},
			{"Consumer", view.Consumer},
		}
		if view.Section != "" {
			pairs = append(pairs, [2]string{"Section", view.Section})
		}
		pairs = append(pairs,
			[2]string{"Quantity", view.Quantity},
			[2]string{"Affected", strconv.FormatBool(view.Affected)},
			[2]string{"Remaining", view.Remaining},
			[2]string{"Affectable", strconv.FormatBool(view.Affectable)},
			[2]string{"State", view.State},
		)
		_, err := io.WriteString(config.Writer, RenderKeyValues(pairs))
		return err
	default:
		return config.Validate()
	}
}

// Report writes the counts of a reconciliation
func Report(r *staging.Report, config Config) error {
	if config.Format == FormatJSON {
		return writeJSON(config.Writer, map[string]any{
			"matrix_id": r.MatrixID.String(),
			"created":   r.Created,
			"updated":   r.Updated,
			"deleted":   r.Deleted,
			"unchanged": r.Unchanged,
		})
	}
	_, err := fmt.Fprintf(config.Writer, "Reconciled: %d created, %d updated, %d deleted, %d unchanged\n",
		r.Created, r.Updated, r.Deleted, r.Unchanged)
	return err
}

// Link writes the outcome of a parent link
func Link(r *hierarchy.LinkResult, config Config) error {
	if config.Format == FormatJSON {
		return writeJSON(config.Writer, map[string]any{
			"owner":    r.Owner.String(),
			"linked":   refStrings(r.Linked),
			"unlinked": refStrings(r.Unlinked),
			"created":  r.Created,
			"deleted":  r.Deleted,
		})
	}
	_, err := fmt.Fprintf(config.Writer, "%s: linked %v, unlinked %v (%d edges created, %d deleted)\n",
		r.Owner, refStrings(r.Linked), refStrings(r.Unlinked), r.Created, r.Deleted)
	return err
}

// Populated writes the outcome of a reservation population
func Populated(r *budget.PopulateResult, config Config) error {
	reserved := decimal.Zero
	if r.Distributed != nil {
		reserved = r.Distributed.TotalReserved()
	}
	if config.Format == FormatJSON {
		return writeJSON(config.Writer, map[string]any{
			"section":     r.Section.String(),
			"created":     r.Created,
			"removed":     r.Removed,
			"distributed": r.Distributed != nil,
			"reserved":    reserved.String(),
		})
	}
	_, err := fmt.Fprintf(config.Writer, "%s: %d rows created, %d removed", r.Section, r.Created, r.Removed)
	if err != nil {
		return err
	}
	if r.Distributed != nil {
		_, err = fmt.Fprintf(config.Writer, ", %s distributed", Amount(reserved))
	}
	if err == nil {
		_, err = fmt.Fprintln(config.Writer)
	}
	return err
}

// Amount formats a decimal without trailing zeros
func Amount(d decimal.Decimal) string {
	return d.String()
}

// Gain colours losses red and gains green
func Gain(d decimal.Decimal) string {
	switch d.Sign() {
	case -1:
		return lossStyle.Render(d.String())
	case 1:
		return okStyle.Render(d.String())
	default:
		return d.String()
	}
}

func refStrings(refs []entities.Ref) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.String()
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
