package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"xbenv/pkg/common"
	"xbenv/pkg/config"
	"xbenv/pkg/disk"
	"xbenv/pkg/env"
	"xbenv/pkg/resolver"
	"xbenv/pkg/rootfs"

	"github.com/dustin/go-humanize"
	"github.com/itchyny/gojq"
)

func runRun(ctx context.Context, mgr *Managers, p *runParams) (*common.ExecutionResult, error) {
	w := mgr.SysCfg.Checkout()
	if p.Hostname != "" {
		w.SetHostname(p.Hostname)
	}
	if len(p.Base) > 0 {
		w.SetBasePkgs(p.Base)
	}
	for _, b := range p.Binds {
		abs, err := filepath.Abs(b)
		if err != nil {
			return nil, err
		}
		w.AddBinds(abs)
	}
	w.Freeze()
	cfg := mgr.SysCfg

	// Both capabilities are checked before any directory is created.
	launcher, err := mgr.Launcher()
	if err != nil {
		return nil, err
	}
	index, err := mgr.Index(false)
	if err != nil {
		return nil, err
	}

	em := env.NewManager(cfg, mgr.Disp,
		resolver.New(index, mgr.Disp, cfg.GetJobs()),
		rootfs.NewBuilder(index, mgr.Disp, cfg.GetHostRoot(), cfg.GetJobs()),
		launcher)

	// Held until the root is gone, so Ctrl-C never kills xbenv mid-build.
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	code, err := em.Execute(ctx, env.Request{
		Packages:  p.Packages,
		Root:      p.Root,
		Command:   p.Command,
		Interrupt: interrupt,
	})
	if err != nil {
		return nil, err
	}
	return &common.ExecutionResult{ExitCode: code}, nil
}

type closureReport struct {
	Packages []common.PkgRef `json:"packages"`
	Manifest rootfs.Manifest `json:"manifest,omitempty"`
}

func runClosure(ctx context.Context, mgr *Managers, p *closureParams) (*common.ExecutionResult, error) {
	cfg := mgr.SysCfg
	cfg.Freeze()

	base := p.Base
	if len(base) == 0 {
		base = cfg.GetBasePkgs()
	}
	index, err := mgr.Index(p.Repo)
	if err != nil {
		return nil, err
	}

	r := resolver.New(index, mgr.Disp, cfg.GetJobs())
	var closure []common.PkgRef
	if p.Repo {
		closure, err = r.Closure(ctx, p.Packages, base)
	} else {
		closure, err = r.Resolve(ctx, p.Packages, base)
	}
	if err != nil {
		return nil, err
	}

	report := closureReport{Packages: closure}
	if p.Files {
		report.Manifest, err = rootfs.NewBuilder(index, mgr.Disp, cfg.GetHostRoot(), cfg.GetJobs()).Manifest(ctx, closure)
		if err != nil {
			return nil, err
		}
	}
	mgr.Disp.Log(fmt.Sprintf("%d packages", len(closure)))

	if p.JSON || p.JQ != "" {
		if err := printJSON(ctx, mgr, report, p.JQ); err != nil {
			return nil, err
		}
		return &common.ExecutionResult{}, nil
	}

	t := mgr.Theme
	var sb strings.Builder
	if !p.Files {
		for _, pkg := range closure {
			sb.WriteString(pkg + "\n")
		}
	}
	for _, entry := range report.Manifest {
		sb.WriteString(t.Styled(t.Bold, entry.Pkg) + "\n")
		for i, f := range entry.Files {
			glyph := t.BoxTree
			if i == len(entry.Files)-1 {
				glyph = t.BoxLast
			}
			sb.WriteString(t.Styled(t.Dim, glyph) + " " + f + "\n")
		}
	}
	mgr.Disp.Print(sb.String())
	return &common.ExecutionResult{}, nil
}

// printJSON prints v as indented JSON, or the results of the jq expression
// applied to it. String results are printed raw, one per line.
func printJSON(ctx context.Context, mgr *Managers, v any, expr string) error {
	if expr == "" {
		return printIndented(mgr, v)
	}

	q, err := gojq.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid jq expression: %w", err)
	}
	// gojq works on plain maps and slices, not structs.
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return err
	}

	iter := q.RunWithContext(ctx, input)
	for {
		res, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, ok := res.(error); ok {
			return fmt.Errorf("jq: %w", err)
		}
		if s, ok := res.(string); ok {
			mgr.Disp.Print(s + "\n")
			continue
		}
		if err := printIndented(mgr, res); err != nil {
			return err
		}
	}
}

func printIndented(mgr *Managers, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	mgr.Disp.Print(string(data) + "\n")
	return nil
}

func listManager(mgr *Managers) *env.Manager {
	mgr.SysCfg.Freeze()
	return env.NewManager(mgr.SysCfg, mgr.Disp, nil, nil, nil)
}

func runList(_ context.Context, mgr *Managers) (*common.ExecutionResult, error) {
	infos, err := listManager(mgr).List()
	if err != nil {
		return nil, err
	}
	dir := mgr.SysCfg.GetRootsDir()
	if len(infos) == 0 {
		return &common.ExecutionResult{Output: &common.Output{Message: "No roots in " + dir}}, nil
	}

	table := &common.Table{Header: []string{"NAME", "PID", "STATUS", "CREATED", "SIZE", "FILES"}}
	var total int64
	for _, info := range infos {
		pid, status, created := "-", "orphaned", "-"
		if info.PID != 0 {
			pid = strconv.Itoa(info.PID)
			created = humanize.Time(info.Since)
		}
		if info.Alive {
			status = "in use"
		}
		table.Rows = append(table.Rows, []string{
			info.Label, pid, status, created, disk.FormatSize(info.Size), humanize.Comma(int64(info.Items)),
		})
		total += info.Size
	}

	msg := fmt.Sprintf("%d roots in %s, %s linked from the host", len(infos), dir, disk.FormatSize(total))
	if free, err := disk.Free(dir); err == nil {
		msg += fmt.Sprintf(", %s free", humanize.IBytes(free))
	}
	return &common.ExecutionResult{Output: &common.Output{Message: msg, Table: table}}, nil
}

func runPrune(_ context.Context, mgr *Managers) (*common.ExecutionResult, error) {
	removed, err := listManager(mgr).Prune()
	if err != nil {
		return nil, err
	}
	out := &common.Output{Message: fmt.Sprintf("Removed %d roots", len(removed))}
	if len(removed) > 0 {
		out.Table = &common.Table{Header: []string{"PATH"}}
		for _, r := range removed {
			out.Table.Rows = append(out.Table.Rows, []string{r})
		}
	}
	return &common.ExecutionResult{Output: out}, nil
}

func runConfigShow(_ context.Context, mgr *Managers) (*common.ExecutionResult, error) {
	cfg := mgr.SysCfg
	cfg.Freeze()
	binds := strings.Join(cfg.GetBinds(), " ")
	if binds == "" {
		binds = "-"
	}
	return &common.ExecutionResult{Output: &common.Output{KV: []common.KV{
		{Key: "config", Value: cfg.GetConfigFile()},
		{Key: "roots_dir", Value: cfg.GetRootsDir()},
		{Key: "host_root", Value: cfg.GetHostRoot()},
		{Key: "hostname", Value: cfg.GetHostname()},
		{Key: "base_pkgs", Value: strings.Join(cfg.GetBasePkgs(), " ")},
		{Key: "shell", Value: cfg.GetShell()},
		{Key: "binds", Value: binds},
		{Key: "jobs", Value: strconv.Itoa(cfg.GetJobs())},
	}}}, nil
}

func runConfigInit(_ context.Context, _ *Managers, p *configInitParams) (*common.ExecutionResult, error) {
	path := p.Path
	if path == "" {
		path = config.DefaultPath()
	}
	if err := config.WriteDefaults(path); err != nil {
		return nil, err
	}
	return &common.ExecutionResult{Output: &common.Output{Message: "Wrote default settings to " + path}}, nil
}

func runVersion(_ context.Context, _ *Managers) (*common.ExecutionResult, error) {
	return &common.ExecutionResult{Output: &common.Output{Message: config.GetBuildInfo()}}, nil
}
