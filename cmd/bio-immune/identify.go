package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/immune/clones"
	"github.com/grailbio/immune/identify"
	"v.io/x/lib/cmdline"
)

func parseRegions(s string) ([]int, error) {
	var regions []int
	for _, f := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("-regions: bad region width %q", f)
		}
		regions = append(regions, n)
	}
	if len(regions) != 5 {
		return nil, fmt.Errorf("-regions: want 5 widths, got %d", len(regions))
	}
	return regions, nil
}

func formatRegions(regions []int) string {
	s := make([]string, len(regions))
	for i, r := range regions {
		s[i] = strconv.Itoa(r)
	}
	return strings.Join(s, ",")
}

func newCmdIdentify() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "identify",
		Short: "Identify the reads of sample directories",
		Long: `Identify aligns every read file listed in the metadata.json manifest of each
directory against the V and J germlines and stores the results.`,
		ArgsName: "dir...",
	}
	opts := identify.DefaultOpts
	db := dbFlag(cmd)
	cmd.Flags.StringVar(&opts.VGermlines, "v-germlines", "", "IMGT-gapped V germline FASTA")
	cmd.Flags.StringVar(&opts.JGermlines, "j-germlines", "", "J germline FASTA")
	cmd.Flags.StringVar(&opts.Metadata, "metadata", "", "Manifest used for every directory instead of dir/"+identify.ManifestName)
	cmd.Flags.IntVar(&opts.Trim, "trim", opts.Trim, "Bases removed from the start of every read")
	cmd.Flags.IntVar(&opts.CommitInterval, "commit-interval", opts.CommitInterval, "Unique reads aligned between commits")
	cmd.Flags.IntVar(&opts.NProc, "nproc", opts.NProc, "Maximum number of workers")
	cmd.Flags.BoolVar(&opts.WarnExisting, "warn-existing", opts.WarnExisting, "Skip samples that already have sequences instead of failing")
	cmd.Flags.IntVar(&opts.V.CDR3Offset, "cdr3-offset", opts.V.CDR3Offset, "Gapped V column where the CDR3 starts")
	cmd.Flags.IntVar(&opts.V.AnchorLen, "v-anchor-len", opts.V.AnchorLen, "Longest V anchor")
	cmd.Flags.IntVar(&opts.V.MinAnchorLen, "v-min-anchor-len", opts.V.MinAnchorLen, "Shortest V anchor")
	cmd.Flags.IntVar(&opts.J.UpstreamOfCDR3, "upstream-of-cdr3", opts.J.UpstreamOfCDR3, "J bases following the CDR3")
	cmd.Flags.IntVar(&opts.J.AnchorLen, "j-anchor-len", opts.J.AnchorLen, "Longest J anchor")
	cmd.Flags.IntVar(&opts.J.MinAnchorLen, "j-min-anchor-len", opts.J.MinAnchorLen, "Shortest J anchor")
	cmd.Flags.Float64Var(&opts.Align.MinSimilarity, "min-similarity", opts.Align.MinSimilarity, "Minimum V and J similarity")
	cmd.Flags.IntVar(&opts.Align.MaxVTies, "max-v-ties", opts.Align.MaxVTies, "Maximum size of a V tie-set")
	regions := cmd.Flags.String("regions", formatRegions(opts.Regions), "Widths of FR1, CDR1, FR2, CDR2 and FR3")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) == 0 {
			return env.UsageErrorf("identify takes at least one directory")
		}
		if opts.VGermlines == "" || opts.JGermlines == "" {
			return env.UsageErrorf("-v-germlines and -j-germlines are required")
		}
		var err error
		if opts.Regions, err = parseRegions(*regions); err != nil {
			return err
		}
		ctx := vcontext.Background()
		d, err := openDB(ctx, *db)
		if err != nil {
			return err
		}
		defer d.Close() // nolint: errcheck
		tasks, err := identify.Run(ctx, d, argv, opts)
		for _, t := range tasks {
			st, terr := t.State()
			if terr != nil {
				fmt.Fprintf(env.Stdout, "%s\t%s\t%v\n", t.Path, st, terr)
				continue
			}
			fmt.Fprintf(env.Stdout, "%s\t%s\n", t.Path, st)
		}
		return err
	})
	return cmd
}

func newCmdClones() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "clones",
		Short: "Group identified sequences into clones",
		Long: `Clones assigns every sequence without a clone to one, per subject. With no
arguments every subject is processed.`,
		ArgsName: "[subject-id...]",
	}
	opts := clones.DefaultOpts
	db := dbFlag(cmd)
	cmd.Flags.Float64Var(&opts.MinSimilarity, "min-similarity", opts.MinSimilarity, "Minimum CDR3 amino acid similarity to the clone representative")
	cmd.Flags.BoolVar(&opts.FunctionalOnly, "functional-only", opts.FunctionalOnly, "Only clone functional sequences")
	cmd.Flags.IntVar(&opts.CDR3Offset, "cdr3-offset", opts.CDR3Offset, "Gapped V column where the CDR3 starts")
	regions := cmd.Flags.String("regions", formatRegions(opts.Regions), "Widths of FR1, CDR1, FR2, CDR2 and FR3")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		var err error
		if opts.Regions, err = parseRegions(*regions); err != nil {
			return err
		}
		ctx := vcontext.Background()
		d, err := openDB(ctx, *db)
		if err != nil {
			return err
		}
		defer d.Close() // nolint: errcheck
		var ids []int64
		for _, a := range argv {
			id, err := strconv.ParseInt(a, 10, 64)
			if err != nil {
				return env.UsageErrorf("bad subject id %q", a)
			}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			subjects, err := d.Subjects(ctx)
			if err != nil {
				return err
			}
			for _, s := range subjects {
				ids = append(ids, s.ID)
			}
		}
		total := 0
		for _, id := range ids {
			cs, err := clones.Assign(ctx, d, id, opts)
			if err != nil {
				return err
			}
			total += len(cs)
		}
		log.Printf("created %d clones for %d subjects", total, len(ids))
		return nil
	})
	return cmd
}
