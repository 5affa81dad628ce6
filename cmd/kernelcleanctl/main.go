// This file is part of kernelclean
// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

// kernelcleanctl removes old kernel versions, keeping either the N
// newest kernels or only those referenced by the bootloader.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/canonical/kernelclean/bootloader"
	"github.com/canonical/kernelclean/kernelmgr"
)

var version = "0.1.0"

type options struct {
	ask         bool
	listKernels bool
	pretend     bool
	bootloader  string
	layout      string
	root        string
	all         bool
	destructive bool
	num         int
	sortOrder   string
	debug       bool
	exclude     string
}

func main() {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "kernelcleanctl",
		Short: "Remove old kernel versions",
		Long: "Remove old kernel versions, keeping either N newest kernels (with -n)\n" +
			"or only those which are referenced by a bootloader (with -a).",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := mergeConfig(cmd.Flags()); err != nil {
				return err
			}
			return run(opts)
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&opts.ask, "ask", "A", false, "ask before removing each kernel")
	flags.BoolVarP(&opts.listKernels, "list-kernels", "l", false, "list kernel files and exit")
	flags.BoolVarP(&opts.pretend, "pretend", "p", false, "print the list of kernels to be removed and exit")
	flags.StringVarP(&opts.bootloader, "bootloader", "b", "auto",
		fmt.Sprintf("bootloader used (auto, %s)", strings.Join(bootloader.Names(), ", ")))
	flags.StringVarP(&opts.layout, "layout", "L", "auto", "layout used (auto, blspec, std)")
	flags.StringVarP(&opts.root, "root", "r", "/", "alternate filesystem root to use")
	flags.BoolVarP(&opts.all, "all", "a", false, "remove all kernels unless used by bootloader")
	flags.BoolVarP(&opts.destructive, "destructive", "d", false,
		"destructive mode: remove kernels even when referenced by bootloader")
	flags.IntVarP(&opts.num, "num", "n", 0, "leave only newest NUM kernels (see also: --sort-order)")
	flags.StringVarP(&opts.sortOrder, "sort-order", "s", "version", "kernel sort order (version, mtime)")
	flags.BoolVarP(&opts.debug, "debug", "D", false, "enable debugging output")
	flags.StringVarP(&opts.exclude, "exclude", "x", "",
		fmt.Sprintf("exclude kernel parts from being removed (comma-separated, supported parts: %s)",
			joinFileTypes()))

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "kernelcleanctl has met the following issue:")
		fmt.Fprintln(os.Stderr)
		var wa *kernelmgr.WriteAccessError
		if errors.As(err, &wa) {
			fmt.Fprintln(os.Stderr, wa.FriendlyDesc())
		} else {
			fmt.Fprintf(os.Stderr, "  %v\n", err)
		}
		os.Exit(1)
	}
}

func joinFileTypes() string {
	var names []string
	for _, t := range kernelmgr.FileTypes() {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}

// mergeConfig overlays kernelclean.rc values from the XDG config
// directories onto flags the user did not set explicitly.
func mergeConfig(flags *pflag.FlagSet) error {
	v := viper.New()
	v.SetConfigName("kernelclean")
	v.SetConfigType("yaml")

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		if home, err := os.UserHomeDir(); err == nil {
			configHome = filepath.Join(home, ".config")
		}
	}
	if configHome != "" {
		v.AddConfigPath(configHome)
	}
	configDirs := os.Getenv("XDG_CONFIG_DIRS")
	if configDirs == "" {
		configDirs = "/etc/xdg"
	}
	for _, d := range strings.Split(configDirs, ":") {
		if d != "" {
			v.AddConfigPath(d)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("cannot read configuration: %w", err)
	}

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		if err := flags.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); err != nil && flagErr == nil {
			flagErr = fmt.Errorf("invalid configuration value for %s: %w", f.Name, err)
		}
	})
	return flagErr
}

func setupLogging(debug bool) error {
	if !debug {
		return nil
	}
	cfg := zap.NewDevelopmentConfig()
	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	kernelmgr.SetLogger(logger)
	bootloader.SetLogger(logger)
	return nil
}

func parseExclusions(spec string) ([]kernelmgr.FileType, error) {
	var out []kernelmgr.FileType
	seen := make(map[string]bool)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		t, err := kernelmgr.ParseFileType(part)
		if err != nil {
			return nil, fmt.Errorf("invalid kernel part: %s", part)
		}
		if t == kernelmgr.TypeKernel {
			return nil, errors.New("kernel exclusion unsupported")
		}
		out = append(out, t)
	}
	return out, nil
}

func getLayout(root, requested string) (kernelmgr.Layout, error) {
	switch requested {
	case "auto":
		bls, err := kernelmgr.NewBlSpecLayout(root)
		if err == nil {
			return bls, nil
		}
		if !errors.Is(err, kernelmgr.ErrLayoutNotFound) {
			return nil, err
		}
		return kernelmgr.NewStdLayout(root), nil
	case "blspec":
		return kernelmgr.NewBlSpecLayout(root)
	case "std":
		return kernelmgr.NewStdLayout(root), nil
	}
	return nil, fmt.Errorf("invalid layout: %s", requested)
}

func run(opts *options) error {
	if err := setupLogging(opts.debug); err != nil {
		return err
	}

	exclusions, err := parseExclusions(opts.exclude)
	if err != nil {
		return err
	}
	sorter, ok := kernelmgr.SorterByName(opts.sortOrder)
	if !ok {
		return fmt.Errorf("invalid sort order: %s", opts.sortOrder)
	}
	layout, err := getLayout(opts.root, opts.layout)
	if err != nil {
		return err
	}

	kernels, err := layout.FindKernels(exclusions)
	if err != nil {
		return err
	}

	if opts.listKernels {
		listKernels(kernels, sorter)
		return nil
	}

	bl, err := bootloader.Get(opts.root, opts.bootloader)
	if err != nil && !errors.Is(err, bootloader.ErrNotFound) {
		return err
	}

	removalOpts := kernelmgr.RemovalOptions{
		Sorter:      sorter,
		Destructive: opts.destructive,
		Notify:      func(msg string) { fmt.Println(msg) },
	}
	if !opts.all {
		num := opts.num
		removalOpts.Limit = &num
	}
	if bl != nil {
		removalOpts.Bootloader = bl
	}

	removals, err := kernelmgr.GetRemovalList(kernels, removalOpts)
	if err != nil {
		return err
	}

	if removals.Len() == 0 {
		fmt.Println("No outdated kernels found.")
		return nil
	}

	_, lookErr := exec.LookPath("kernel-install")
	hasKernelInstall := lookErr == nil

	if opts.pretend {
		pretend(removals, kernels, bl, hasKernelInstall)
		return nil
	}
	return removeKernels(opts, removals, kernels, bl, hasKernelInstall)
}

func listKernels(kernels []*kernelmgr.Kernel, sorter kernelmgr.Sorter) {
	ordered := append([]*kernelmgr.Kernel(nil), kernels...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return sorter.Less(ordered[j], ordered[i])
	})
	for _, k := range ordered {
		realKV, _ := k.RealKV()
		fmt.Printf("%s [%s]\n", k.Version, realKV)
		for _, f := range k.AllFiles {
			fmt.Printf("- %s: %s\n", f.Type(), f.Path())
		}
		if mtime, err := k.MTime(); err == nil {
			fmt.Printf("- last modified: %s\n", mtime.UTC().Format("2006-01-02 15:04:05"))
		}
	}
}

func printFile(path string, doomed bool) {
	if doomed {
		fmt.Printf(" [%s] %s\n", color.RedString("-"), path)
	} else {
		fmt.Printf(" [%s] %s\n", color.GreenString("+"), path)
	}
}

func pretend(removals *kernelmgr.RemovalMap, kernels []*kernelmgr.Kernel,
	bl bootloader.Bootloader, hasKernelInstall bool) {
	fmt.Println("These are the kernels which would be removed:")

	for _, rk := range kernelmgr.GetRemovableFiles(removals, kernels) {
		fmt.Printf("- %s: %s\n", rk.Kernel.Version, strings.Join(rk.Reasons, ", "))
		doomed := make(map[string]bool, len(rk.Files))
		for _, p := range rk.Files {
			doomed[p] = true
		}
		for _, f := range rk.Kernel.AllFiles {
			printFile(f.Path(), doomed[f.Path()])
		}
	}
	if hasKernelInstall {
		fmt.Println("kernel-install will be called to perform prerm tasks.")
	}
	if _, ok := bl.(bootloader.PostRemover); ok {
		fmt.Printf("Bootloader %s config will be updated.\n", bl.Name())
	}
}

// confirmRemoval asks about one kernel; it reports false when the
// operator answered no.
func confirmRemoval(k *kernelmgr.Kernel, reasons []string) (bool, error) {
	prompt := promptui.Prompt{
		Label:     fmt.Sprintf("Remove %s (%s)", k.Version, strings.Join(reasons, ", ")),
		IsConfirm: true,
	}
	_, err := prompt.Run()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, promptui.ErrAbort) {
		return false, nil
	}
	return false, err
}

func removeKernels(opts *options, removals *kernelmgr.RemovalMap,
	kernels []*kernelmgr.Kernel, bl bootloader.Bootloader, hasKernelInstall bool) error {
	for _, k := range removals.Kernels() {
		if err := k.CheckWritable(); err != nil {
			return err
		}
	}

	if opts.ask {
		for _, k := range removals.Kernels() {
			keep, err := confirmRemoval(k, removals.Reasons(k))
			if err != nil {
				return err
			}
			if !keep {
				removals.Skip(k)
			}
		}
	}

	nremoved, remErr := removeListed(kernelmgr.GetRemovableFiles(removals, kernels),
		hasKernelInstall)

	if nremoved > 0 {
		fmt.Printf("Removed %d kernels\n", nremoved)
		if pr, ok := bl.(bootloader.PostRemover); ok {
			if err := pr.PostRM(); err != nil {
				postErr := fmt.Errorf("kernels were removed but updating %s config failed: %w",
					bl.Name(), err)
				if remErr != nil {
					fmt.Println(postErr)
				} else {
					remErr = postErr
				}
			}
		}
	}
	return remErr
}

// removeListed deletes the doomed kernels one by one. A fault in one
// kernel aborts that kernel's cleanup only; the remaining kernels are
// still processed, and the failures are summarized in the returned
// error once everything else went through.
func removeListed(list []kernelmgr.RemovableKernelFiles, hasKernelInstall bool) (int, error) {
	nremoved := 0
	var failed []string
	for _, rk := range list {
		fmt.Printf("* Removing kernel %s (%s)\n",
			rk.Kernel.Version, strings.Join(rk.Reasons, ", "))

		if hasKernelInstall {
			runKernelInstallPrerm(rk.Kernel)
		}

		if err := kernelmgr.RemoveKernel(rk, printFile); err != nil {
			fmt.Printf("* Removing kernel %s failed: %v\n", rk.Kernel.Version, err)
			failed = append(failed, rk.Kernel.Version)
			continue
		}
		nremoved++
	}
	if len(failed) > 0 {
		return nremoved, fmt.Errorf("unable to remove some kernels (%s); "+
			"their files may be partially removed", strings.Join(failed, ", "))
	}
	return nremoved, nil
}

// runKernelInstallPrerm lets kernel-install run its prerm plugins for
// every image of the doomed kernel. Failures are advisory: the files
// are going away regardless.
func runKernelInstallPrerm(k *kernelmgr.Kernel) {
	for _, f := range k.AllFiles {
		img, ok := f.(*kernelmgr.KernelImage)
		if !ok {
			continue
		}
		cmd := exec.Command("kernel-install", "remove", img.InternalVersion(), img.Path())
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			fmt.Printf("* kernel-install failed: %v\n", err)
		}
	}
}
