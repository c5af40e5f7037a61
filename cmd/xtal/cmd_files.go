package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"polo/internal/cocktail"
	"polo/internal/importer"
	"polo/internal/linker"
	"polo/internal/model"
	"polo/internal/xtal"
)

type headerSummary struct {
	SaveTime string            `yaml:"save_time,omitempty"`
	Version  string            `yaml:"version"`
	Meta     map[string]string `yaml:"meta,omitempty"`
}

type runSummary struct {
	Name         string         `yaml:"name"`
	Kind         string         `yaml:"kind"`
	Spectrum     string         `yaml:"spectrum"`
	PlateID      string         `yaml:"plate_id,omitempty"`
	Sample       string         `yaml:"sample,omitempty"`
	Date         string         `yaml:"date,omitempty"`
	CocktailMenu string         `yaml:"cocktail_menu,omitempty"`
	Images       int            `yaml:"images"`
	Placeholders int            `yaml:"placeholders,omitempty"`
	Human        map[string]int `yaml:"human,omitempty"`
	Machine      map[string]int `yaml:"machine,omitempty"`
}

type inspectReport struct {
	File   string        `yaml:"file"`
	Header headerSummary `yaml:"header"`
	Run    *runSummary   `yaml:"run,omitempty"`
}

type linkedRun struct {
	Name      string   `yaml:"name"`
	DateChain []string `yaml:"date_chain"`
	Spectrum  []string `yaml:"spectrum_ring,omitempty"`
}

type linkReport struct {
	Runs    []linkedRun `yaml:"runs"`
	Skipped []string    `yaml:"skipped,omitempty"`
}

func summarizeHeader(h xtal.Header) headerSummary {
	s := headerSummary{Version: h.Version, Meta: h.Meta}
	if !h.SaveTime.IsZero() {
		s.SaveTime = h.SaveTime.Format(time.RFC3339)
	}
	return s
}

func summarizeRun(run *model.Run) *runSummary {
	s := &runSummary{
		Name:         run.Name,
		Kind:         string(run.Kind),
		Spectrum:     string(run.Spectrum),
		PlateID:      run.PlateID,
		Sample:       run.Sample,
		CocktailMenu: run.CocktailMenu,
		Images:       run.Len(),
	}
	if !run.Date.IsZero() {
		s.Date = run.Date.Format(time.DateOnly)
	}
	for _, img := range run.Images {
		if img == nil || img.IsPlaceholder() {
			s.Placeholders++
		}
	}
	human, machine := run.ClassificationCounts()
	s.Human = countMap(human)
	s.Machine = countMap(machine)
	return s
}

func countMap(in map[model.Classification]int) map[string]int {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[string(k)] = v
	}
	return out
}

func writeYAML(cmd *cobra.Command, v any) error {
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return enc.Close()
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := args[0]
	if headerOnly {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		h, err := xtal.ReadHeader(f)
		if err != nil {
			return err
		}
		return writeYAML(cmd, inspectReport{File: path, Header: summarizeHeader(h)})
	}

	run, h, err := xtal.ReadFile(path)
	if err != nil {
		return err
	}
	return writeYAML(cmd, inspectReport{File: path, Header: summarizeHeader(h), Run: summarizeRun(run)})
}

func names(runs []*model.Run) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.Name
	}
	return out
}

func runLink(cmd *cobra.Command, args []string) error {
	log := commandLogger()
	arena := model.NewArena()
	for _, path := range args {
		run, _, err := xtal.ReadFile(path)
		if err != nil {
			return err
		}
		if err := arena.Add(run); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	result := linker.New(arena, log).Relink()

	var report linkReport
	runs := arena.Runs()
	sort.SliceStable(runs, func(i, j int) bool { return model.RunByDate(runs[i], runs[j]) })
	for _, r := range runs {
		entry := linkedRun{Name: r.Name, DateChain: names(arena.LinkedByDate(r))}
		if ring := arena.LinkedBySpectrum(r, nil); len(ring) > 1 {
			entry.Spectrum = names(ring)
		}
		report.Runs = append(report.Runs, entry)
	}
	for _, s := range result.Skipped {
		report.Skipped = append(report.Skipped, s.Error())
	}
	return writeYAML(cmd, report)
}

func runImport(cmd *cobra.Command, args []string) error {
	log := commandLogger()
	opts := importer.HWIOptions{
		Name:     runName,
		Spectrum: parsedSpectrum(spectrumName),
		NumWells: numWells,
		Sample:   sampleName,
	}
	if menuPath != "" {
		menu, err := cocktail.LoadMenu(menuPath)
		if err != nil {
			return err
		}
		opts.Menu = menu
		opts.MenuName = menu.Name
	}

	run, err := importer.New(log).Import(args[0], opts)
	if err != nil {
		return err
	}
	if err := model.ValidateRunName(run.Name); err != nil {
		return err
	}

	out := outPath
	if out == "" {
		out = run.Name + xtal.Extension
	}
	if err := xtal.WriteFile(out, run, xtal.Options{InlineImages: inline}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d images)\n", out, run.Len())
	return nil
}

func parsedSpectrum(v string) model.Spectrum {
	if v == "" {
		return ""
	}
	return model.ParseSpectrum(v)
}

func runExport(cmd *cobra.Command, args []string) error {
	run, _, err := xtal.ReadFile(args[0])
	if err != nil {
		return err
	}
	written, err := xtal.ExportImages(run, args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d images to %s\n", len(written), args[1])
	return nil
}
