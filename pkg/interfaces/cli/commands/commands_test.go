package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/vsinha/affect/pkg/application/services/staging"
	"github.com/vsinha/affect/pkg/domain/entities"
	domainerr "github.com/vsinha/affect/pkg/domain/errors"
	"github.com/vsinha/affect/pkg/interfaces/cli/output"
)

const seedDir = "../../../infrastructure/repositories/csv/testdata/carpentry"

type cli struct {
	t   *testing.T
	dir string
	log bytes.Buffer
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	return &cli{t: t, dir: t.TempDir()}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&c.log)
	root.SetArgs(append([]string{
		"--db", filepath.Join(c.dir, "affect.db"),
		"--config", filepath.Join(c.dir, "affect.toml"),
	}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	if err != nil {
		c.t.Fatalf("affect %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func (c *cli) phaseCell(owner, consumer string) output.CellView {
	c.t.Helper()
	out := c.mustRun("matrix", "phase", "--project", "1", "--format", "json")
	var view output.MatrixView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		c.t.Fatalf("Failed to decode matrix: %v\n%s", err, out)
	}
	for _, cell := range view.Cells {
		if cell.Owner == owner && cell.Consumer == consumer {
			return cell
		}
	}
	c.t.Fatalf("No cell %s/%s in matrix", owner, consumer)
	return output.CellView{}
}

func TestSeedAndLink(t *testing.T) {
	c := newCLI(t)
	out := c.mustRun("seed", seedDir)
	if !strings.Contains(out, "positions.csv") {
		t.Errorf("Expected seed counts, got %q", out)
	}

	out = c.mustRun("link", "phase:20", "lot:10")
	if !strings.Contains(out, "linked [lot:10]") {
		t.Errorf("Expected lot:10 to be linked, got %q", out)
	}

	out = c.mustRun("link", "--list", "phase:20")
	if strings.TrimSpace(out) != "lot:10" {
		t.Errorf("Expected parents lot:10, got %q", out)
	}
}

func TestLinkRequiresParentsOrClear(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("link", "phase:20")
	if err == nil || !strings.Contains(err.Error(), "--clear") {
		t.Errorf("Expected a hint about --clear, got %v", err)
	}
}

func TestMatrixEditsAndOverconsumption(t *testing.T) {
	c := newCLI(t)
	c.mustRun("seed", seedDir)
	c.mustRun("link", "phase:20", "lot:10")

	out := c.mustRun("matrix", "phase", "--project", "1", "--set", "phase:20/position:100=3")
	if !strings.Contains(out, "Reconciled:") {
		t.Errorf("Expected a reconcile report, got %q", out)
	}

	cell := c.phaseCell("phase:20", "position:100")
	if cell.Quantity != "3" {
		t.Errorf("Expected quantity 3, got %s", cell.Quantity)
	}
	if cell.Remaining != "1" {
		t.Errorf("Expected remaining 1, got %s", cell.Remaining)
	}

	_, err := c.run("matrix", "phase", "--project", "1", "--set", "phase:21/position:100=2")
	if !errors.Is(err, domainerr.ErrOverconsumption) {
		t.Fatalf("Expected overconsumption, got %v", err)
	}
	if got := c.phaseCell("phase:20", "position:100").Quantity; got != "3" {
		t.Errorf("Expected the failed edit to leave 3, got %s", got)
	}
}

func TestEdgeCommands(t *testing.T) {
	c := newCLI(t)
	c.mustRun("seed", seedDir)
	c.mustRun("link", "phase:20", "lot:10")
	cell := c.phaseCell("phase:20", "position:101")
	id := cell.EdgeID
	if id == 0 {
		t.Fatal("Expected a provisioned edge for position:101")
	}
	edge := strconv.FormatInt(id, 10)

	out := c.mustRun("write", edge, "2", "--format", "json")
	var view output.EdgeView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("Failed to decode edge: %v\n%s", err, out)
	}
	if view.Quantity != "2" || view.State != entities.StateFullyAllocated.String() {
		t.Errorf("Expected 2 fully allocated, got %s %s", view.Quantity, view.State)
	}

	if _, err := c.run("write", edge, "3"); !errors.Is(err, domainerr.ErrOverconsumption) {
		t.Errorf("Expected overconsumption, got %v", err)
	}

	c.mustRun("delete", edge)
	out = c.mustRun("state", edge)
	if !strings.Contains(out, entities.StateRetracted.String()) {
		t.Errorf("Expected retracted, got %q", out)
	}
}

func TestReserveShow(t *testing.T) {
	c := newCLI(t)
	c.mustRun("seed", seedDir)

	out := c.mustRun("reserve", "show", "purchase:500", "--format", "json")
	var view output.SummaryView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("Failed to decode summary: %v\n%s", err, out)
	}
	if view.Section != "purchase:500" || view.Name != "PO-500 glazing" {
		t.Errorf("Expected PO-500 glazing, got %s %s", view.Section, view.Name)
	}

	if _, err := c.run("reserve", "show", "lot:10"); err == nil {
		t.Error("Expected an error for a non-section ref")
	}
}

func TestVerboseLogsEdgeChanges(t *testing.T) {
	c := newCLI(t)
	c.mustRun("seed", seedDir)
	c.log.Reset()
	c.mustRun("--verbose", "link", "phase:20", "lot:10")
	if !strings.Contains(c.log.String(), "edge changed") {
		t.Errorf("Expected edge change logs, got %q", c.log.String())
	}
}

func TestUnknownFormat(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("state", "1", "--format", "xml")
	if err == nil || !strings.Contains(err.Error(), "unsupported output format") {
		t.Errorf("Expected unsupported format, got %v", err)
	}
}

func TestParseEdits(t *testing.T) {
	owner := entities.NewRef(entities.KindLaunch, 30)
	consumer := entities.NewRef(entities.KindEdge, 7)
	token := uuid.New()
	matrix := &staging.Matrix{
		Mode:  entities.ModeLaunch,
		Cells: []staging.Cell{{Token: token, Owner: owner, Consumer: consumer}},
	}

	tests := []struct {
		name     string
		set      string
		wantErr  bool
		affected bool
	}{
		{name: "claim", set: "launch:30/edge:7=on", affected: true},
		{name: "release", set: "launch:30/edge:7=off", affected: false},
		{name: "missing value", set: "launch:30/edge:7", wantErr: true},
		{name: "missing consumer", set: "launch:30=on", wantErr: true},
		{name: "unknown cell", set: "launch:31/edge:7=on", wantErr: true},
		{name: "bad switch", set: "launch:30/edge:7=maybe", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edits, err := parseEdits(matrix, []string{tt.set})
			if tt.wantErr {
				if err == nil {
					t.Error("Expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if edits[token].Affected != tt.affected {
				t.Errorf("Expected affected %t, got %t", tt.affected, edits[token].Affected)
			}
		})
	}
}

func TestParseSwitch(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{in: "on", want: true},
		{in: "YES", want: true},
		{in: "1", want: true},
		{in: "off"},
		{in: "false"},
		{in: "maybe", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseSwitch(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseSwitch(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseSwitch(%q) = %t, expected %t", tt.in, got, tt.want)
		}
	}
}
