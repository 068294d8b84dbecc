package cli

import (
	"context"

	"xbenv/pkg/common"
	"xbenv/pkg/config"
	"xbenv/pkg/display"

	"github.com/spf13/cobra"
)

// Commands carrying this annotation run without loading the config file.
const annotationNoConfig = "xbenv/no-config"

type globalFlags struct {
	quiet      bool
	verbose    int
	configFile string
}

type runParams struct {
	Packages []string
	Base     []string
	Root     string
	Hostname string
	Binds    []string
	Command  []string
}

type closureParams struct {
	Packages []string
	Base     []string
	Files    bool
	JSON     bool
	JQ       string
	Repo     bool
}

type configInitParams struct {
	Path string
}

// session is the state of one Execute call.
type session struct {
	app    *App
	global globalFlags
	mgr    *Managers
	result *common.ExecutionResult
}

type handler func(ctx context.Context, mgr *Managers) (*common.ExecutionResult, error)

// action adapts a handler to cobra, keeping its result for Execute.
func (s *session) action(h handler) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		res, err := h(cmd.Context(), s.mgr)
		if err != nil {
			return err
		}
		s.result = res
		return nil
	}
}

func (s *session) setup(cmd *cobra.Command, _ []string) error {
	v := display.FromFlags(s.global.quiet, s.global.verbose)
	s.mgr = &Managers{
		Disp:        display.NewStreams(s.app.stdout, s.app.stderr, v),
		Theme:       NewTheme(s.app.stdout),
		newIndex:    s.app.newIndex,
		newLauncher: s.app.newLauncher,
	}
	if cmd.Annotations[annotationNoConfig] != "" {
		return nil
	}
	cfg, err := config.Init(s.global.configFile)
	if err != nil {
		return err
	}
	s.mgr.SysCfg = cfg
	return nil
}

func (s *session) rootCommand() *cobra.Command {
	var p runParams
	root := &cobra.Command{
		Use:   "xbenv [flags] [-- command [args...]]",
		Short: "Run commands in throwaway roots built from host XBPS packages",
		Long: `xbenv resolves the dependency closure of a set of packages installed on
the host, hard-links their files into a fresh directory and runs a command
inside it under bubblewrap. The directory is removed when the command exits.

Files in the root are hard links to the host's own files: writing to one
inside the sandbox changes it on the host.

Without a subcommand xbenv behaves like "xbenv run".`,
		Args:              cobra.ArbitraryArgs,
		PersistentPreRunE: s.setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}
	root.RunE = s.runAction(&p)
	addRunFlags(root, &p)
	root.Flags().SetInterspersed(false)

	pf := root.PersistentFlags()
	pf.BoolVarP(&s.global.quiet, "quiet", "q", false, "print only command output and errors")
	pf.CountVarP(&s.global.verbose, "verbose", "v", "print more details (-vv traces every file and query)")
	pf.StringVar(&s.global.configFile, "config", "", "config file (default "+config.DefaultPath()+")")

	root.AddCommand(
		s.runCommand(),
		s.closureCommand(),
		s.listCommand(),
		s.pruneCommand(),
		s.configCommand(),
		s.versionCommand(),
	)
	return root
}

func addRunFlags(cmd *cobra.Command, p *runParams) {
	f := cmd.Flags()
	f.StringSliceVarP(&p.Packages, "pkg", "p", nil, "extra package to add to the closure (repeatable)")
	f.StringSliceVarP(&p.Base, "base", "b", nil, "base package replacing the configured base set (repeatable)")
	f.StringVar(&p.Root, "root", "", "use this (not yet existing) directory as the root")
	f.StringVar(&p.Hostname, "hostname", "", "hostname inside the sandbox")
	f.StringArrayVar(&p.Binds, "bind", nil, "bind a host path at the same path in the sandbox (repeatable)")
}

func (s *session) runAction(p *runParams) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		p.Command = args
		return s.action(func(ctx context.Context, mgr *Managers) (*common.ExecutionResult, error) {
			return runRun(ctx, mgr, p)
		})(cmd, args)
	}
}

func (s *session) runCommand() *cobra.Command {
	var p runParams
	cmd := &cobra.Command{
		Use:   "run [flags] [-- command [args...]]",
		Short: "Build a root, run a command in it and remove it",
		Long: `Build a root from the base set plus the given packages, run the command in
it and remove the root. Without a command the configured shell is started.
The exit status is the command's own.`,
		Example: `  xbenv run -p python3 -- python3 -c 'print("hi")'
  xbenv run -b base-files -b dash /bin/sh -c 'ls /usr/bin'`,
		Args: cobra.ArbitraryArgs,
	}
	cmd.RunE = s.runAction(&p)
	addRunFlags(cmd, &p)
	// Everything from the command name on belongs to the command.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func (s *session) closureCommand() *cobra.Command {
	var p closureParams
	cmd := &cobra.Command{
		Use:   "closure",
		Short: "Print the package closure without building anything",
		Example: `  xbenv closure -p git
  xbenv closure -p git --files --json
  xbenv closure -p git --files --jq '.manifest[] | select(.pkg == "git") | .files | length'`,
		Args: cobra.NoArgs,
		RunE: s.action(func(ctx context.Context, mgr *Managers) (*common.ExecutionResult, error) {
			return runClosure(ctx, mgr, &p)
		}),
	}
	f := cmd.Flags()
	f.StringSliceVarP(&p.Packages, "pkg", "p", nil, "extra package to add to the closure (repeatable)")
	f.StringSliceVarP(&p.Base, "base", "b", nil, "base package replacing the configured base set (repeatable)")
	f.BoolVar(&p.Files, "files", false, "include the files owned by each package")
	f.BoolVar(&p.JSON, "json", false, "print JSON")
	f.StringVar(&p.JQ, "jq", "", "filter the JSON output with a jq expression")
	f.BoolVar(&p.Repo, "repo", false, "use repository metadata; members need not be installed")
	return cmd
}

func (s *session) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List roots under the roots directory",
		Args:  cobra.NoArgs,
		RunE:  s.action(runList),
	}
}

func (s *session) pruneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove roots left behind by runs that no longer exist",
		Args:  cobra.NoArgs,
		RunE:  s.action(runPrune),
	}
}

func (s *session) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  s.action(runConfigShow),
	}

	var p configInitParams
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a config file with the default settings",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNoConfig: "true"},
		RunE: s.action(func(ctx context.Context, mgr *Managers) (*common.ExecutionResult, error) {
			p.Path = s.global.configFile
			return runConfigInit(ctx, mgr, &p)
		}),
	}
	cmd.AddCommand(initCmd)
	return cmd
}

func (s *session) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the version",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNoConfig: "true"},
		RunE:        s.action(runVersion),
	}
}
