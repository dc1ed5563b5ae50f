package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/immune/germline"
	"github.com/grailbio/immune/mutations"
	"github.com/grailbio/immune/store"
	"v.io/x/lib/cmdline"
)

// formatFloat renders f with two decimals.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// writeStats writes one TSV line per sample. With withRegions, every region
// follows as region:count:percent, the percent of the sample's mutations.
func writeStats(w io.Writer, samples []*store.Sample, stats map[int64]*store.SampleStats, withRegions bool) error {
	out := tsv.NewWriter(w)
	out.WriteString("#SAMPLE\tSTATUS\tREADS\tSEQUENCES\tVALID\tNORESULT\tFUNCTIONAL\tINFRAME\tSTOP\tAVG_V_LENGTH\tAVG_MUTATION_PCT")
	if withRegions {
		out.WriteString("REGIONS")
	}
	if err := out.EndLine(); err != nil {
		return err
	}
	for _, s := range samples {
		st := stats[s.ID]
		if st == nil {
			st = &store.SampleStats{}
		}
		out.WriteString(s.Name)
		status := s.Status
		if status == store.StatusNew {
			status = "new"
		}
		out.WriteString(status)
		out.WriteUint32(uint32(st.Reads))
		out.WriteUint32(uint32(st.SequenceCount))
		out.WriteUint32(uint32(st.ValidCount))
		out.WriteUint32(uint32(st.NoResultCount))
		out.WriteUint32(uint32(st.FunctionalCount))
		out.WriteUint32(uint32(st.InFrameCount))
		out.WriteUint32(uint32(st.StopCount))
		out.WriteString(formatFloat(st.AvgVLength))
		out.WriteString(formatFloat(mutations.FractionPercent(st.AvgMutationFrac)))
		if withRegions {
			regions, err := regionSummary(st.Mutations)
			if err != nil {
				return fmt.Errorf("sample %s: %v", s.Name, err)
			}
			out.WriteString(regions)
		}
		if err := out.EndLine(); err != nil {
			return err
		}
	}
	return out.Flush()
}

func regionSummary(data string) (string, error) {
	if data == "" {
		return "", nil
	}
	tally := mutations.NewTally()
	if err := json.Unmarshal([]byte(data), tally); err != nil {
		return "", err
	}
	regions := tally.Regions()
	labels := make([]string, 0, len(regions))
	for l := range regions {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	total := tally.Total().Total()
	s := ""
	for i, l := range labels {
		if i > 0 {
			s += ","
		}
		n := regions[l].Total()
		s += l + ":" + strconv.Itoa(n) + ":" + formatFloat(mutations.Percent(n, total))
	}
	return s, nil
}

func newCmdStats() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "stats",
		Short: "Print per-sample identification statistics as TSV",
	}
	db := dbFlag(cmd)
	withRegions := cmd.Flags.Bool("regions", false, "Append mutation counts per region")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 0 {
			return env.UsageErrorf("stats takes no arguments")
		}
		ctx := vcontext.Background()
		d, err := openDB(ctx, *db)
		if err != nil {
			return err
		}
		defer d.Close() // nolint: errcheck
		samples, err := d.Samples(ctx)
		if err != nil {
			return err
		}
		stats := make(map[int64]*store.SampleStats, len(samples))
		for _, s := range samples {
			if stats[s.ID], err = d.SampleStats(ctx, s.ID); err != nil {
				return err
			}
		}
		return writeStats(env.Stdout, samples, stats, *withRegions)
	})
	return cmd
}

func newCmdLookup() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "lookup",
		Short:    "Find the stored sequences equal to an aligned sequence",
		ArgsName: "sequence",
	}
	db := dbFlag(cmd)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return env.UsageErrorf("lookup takes one sequence, but got %v", argv)
		}
		ctx := vcontext.Background()
		d, err := openDB(ctx, *db)
		if err != nil {
			return err
		}
		defer d.Close() // nolint: errcheck
		seqs, err := d.FindSequences(ctx, argv[0])
		if err != nil {
			return err
		}
		out := tsv.NewWriter(env.Stdout)
		for _, s := range seqs {
			out.WriteString(strconv.FormatInt(s.SampleID, 10))
			out.WriteString(s.SeqID)
			out.WriteString(s.VGene)
			out.WriteString(s.JGene)
			out.WriteString(s.CDR3AA)
			out.WriteUint32(uint32(s.CopyNumber))
			if err := out.EndLine(); err != nil {
				return err
			}
		}
		return out.Flush()
	})
	return cmd
}

func newCmdTies() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "ties",
		Short: "Print the J genes indistinguishable from a gene over an anchor length",
		Long: `Ties prints the J tie-set of GENE when only LENGTH bases of its anchor window
were matched.`,
		ArgsName: "gene length",
	}
	path := cmd.Flags.String("j-germlines", "", "J germline FASTA")
	strip := cmd.Flags.Bool("strip-alleles", true, "Report genes without their allele suffix")
	opts := germline.DefaultJOpts
	cmd.Flags.IntVar(&opts.UpstreamOfCDR3, "upstream-of-cdr3", opts.UpstreamOfCDR3, "J bases following the CDR3")
	cmd.Flags.IntVar(&opts.AnchorLen, "j-anchor-len", opts.AnchorLen, "Longest J anchor")
	cmd.Flags.IntVar(&opts.MinAnchorLen, "j-min-anchor-len", opts.MinAnchorLen, "Shortest J anchor")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 2 || *path == "" {
			return env.UsageErrorf("ties takes -j-germlines, a gene and a length")
		}
		n, err := strconv.Atoi(argv[1])
		if err != nil {
			return env.UsageErrorf("bad length %q", argv[1])
		}
		ctx := vcontext.Background()
		set, err := germline.Load(ctx, *path, germline.JPrefix, false)
		if err != nil {
			return err
		}
		j, err := germline.NewJGermlines(set, opts)
		if err != nil {
			return err
		}
		name, err := tieName(j, argv[0], n, *strip)
		if err != nil {
			return err
		}
		fmt.Fprintln(env.Stdout, name)
		return nil
	})
	return cmd
}

// tieName formats the J tie-set of gene over matchLen anchor bases.
func tieName(j *germline.JGermlines, gene string, matchLen int, stripAlleles bool) (string, error) {
	if _, ok := j.Seq(gene); !ok {
		return "", fmt.Errorf("unknown gene %s", gene)
	}
	return germline.TieName(germline.JPrefix, j.ResolveTie(gene, matchLen), stripAlleles), nil
}
