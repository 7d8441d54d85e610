/*
vkcheck validates SPIR-V shader modules the way the layer does when an application
calls vkCreateShaderModule, and optionally matches the interfaces between the
pipeline stages found in them. WGSL sources are compiled to SPIR-V first.
*/
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"sync"
	"syscall"

	"github.com/spaghettifunk/vkcheck/layer"
	"github.com/spaghettifunk/vkcheck/layer/core"
	"github.com/spaghettifunk/vkcheck/layer/spirv"
	"github.com/spaghettifunk/vkcheck/layer/systems"
	"github.com/spaghettifunk/vkcheck/testbed"
)

var (
	settingsPath = flag.String("config", "", "Settings file (toml), reloaded while running")
	workers      = flag.Int("workers", runtime.NumCPU(), "Number of files to check concurrently")
	link         = flag.Bool("link", false, "Match the stage interfaces across all the given files")
	slots        = flag.Bool("slots", false, "List the descriptor slots each entry point uses")
	runTestbed   = flag.Bool("testbed", false, "Run the built-in API call scenarios")
)

// fileReport is what checking one file produced.
type fileReport struct {
	path        string
	shader      *systems.Shader
	diagnostics []core.Diagnostic
	err         error
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: vkcheck [flags] shader.spv|shader.wgsl ...\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 && !*runTestbed {
		flag.Usage()
		os.Exit(2)
	}

	inst := layer.New(*settingsPath)
	if err := inst.Initialize(); err != nil {
		core.LogFatal("failed to initialize: %s", err.Error())
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	// start shutdown goroutine
	go func() {
		// capture sigterm and other system call here
		<-sigCh
		_ = inst.Shutdown()
		os.Exit(130)
	}()

	failed := false
	if *runTestbed {
		failed = runScenarios(inst) || failed
	}
	if flag.NArg() > 0 {
		failed = checkFiles(inst, flag.Args()) || failed
	}

	if err := inst.Shutdown(); err != nil {
		core.LogError("%s", err)
	}
	if failed {
		os.Exit(1)
	}
}

func runScenarios(inst *layer.Instance) bool {
	failed := false
	for _, s := range testbed.Scenarios() {
		r, err := testbed.RunScenario(inst, s)
		if err != nil {
			core.LogError("%s", err)
			failed = true
			continue
		}
		status := "ok"
		if !r.Passed {
			status = fmt.Sprintf("FAIL (missing %v)", r.Missing)
			failed = true
		}
		fmt.Printf("%-24s %s\n", s.Name, status)
	}
	return failed
}

func checkFiles(inst *layer.Instance, paths []string) bool {
	js, err := systems.NewJobSystem(max(*workers, 1), len(paths))
	if err != nil {
		core.LogFatal("%s", err)
	}
	ss, err := systems.NewShaderSystem(&systems.ShaderSystemConfig{MaxShaderCount: uint16(min(len(paths), 65535))})
	if err != nil {
		core.LogFatal("%s", err)
	}

	var mutex sync.Mutex
	reports := make([]*fileReport, 0, len(paths))
	collect := func(results <-chan interface{}) {
		for r := range results {
			mutex.Lock()
			reports = append(reports, r.(*fileReport))
			mutex.Unlock()
		}
	}

	for _, p := range paths {
		err := js.Submit(systems.JobTask{
			InputParams: p,
			OnStart: func(in interface{}, out chan<- interface{}) error {
				report := checkFile(inst, ss, in.(string))
				out <- report
				return report.err
			},
			OnComplete: collect,
			OnFailure:  collect,
		})
		if err != nil {
			core.LogFatal("%s", err)
		}
	}
	if err := js.Shutdown(); err != nil {
		core.LogError("%s", err)
	}

	order := make(map[string]int, len(paths))
	for i, p := range paths {
		order[p] = i
	}
	sort.Slice(reports, func(a, b int) bool { return order[reports[a].path] < order[reports[b].path] })

	failed := false
	var shaders []*systems.Shader
	for _, r := range reports {
		failed = printReport(r) || failed
		if r.shader != nil {
			shaders = append(shaders, r.shader)
		}
	}

	if *link && len(shaders) > 0 {
		for _, f := range systems.LinkStages(shaders...) {
			severity := core.SeverityError
			if f.Kind == spirv.FindingOutputNotConsumed {
				severity = core.SeverityPerformanceWarning
			} else {
				failed = true
			}
			fmt.Printf("link %s -> %s: [%s] %s\n", f.Producer, f.Consumer, severity, f.Message)
		}
	}

	if err := ss.Shutdown(); err != nil {
		core.LogError("%s", err)
	}
	for _, d := range inst.Devices() {
		_ = inst.DestroyDevice(d)
	}
	return failed
}

// checkFile creates a device of its own so the diagnostics can be attributed to the file.
func checkFile(inst *layer.Instance, ss *systems.ShaderSystem, path string) *fileReport {
	report := &fileReport{path: path}

	dev, err := inst.CreateDevice(layer.ReferenceDevice().Info)
	if err != nil {
		report.err = err
		return report
	}

	id := dev.ID().String()
	var mutex sync.Mutex
	cb := inst.Reporter().Callbacks().Register(core.SeverityAll, nil, func(d core.Diagnostic, _ interface{}) bool {
		if d.Device == id {
			mutex.Lock()
			report.diagnostics = append(report.diagnostics, d)
			mutex.Unlock()
		}
		return false
	})
	defer inst.Reporter().Callbacks().Unregister(cb)

	report.shader, report.err = ss.Acquire(dev, path)
	return report
}

func printReport(r *fileReport) bool {
	failed := r.err != nil
	for _, d := range r.diagnostics {
		if d.Severity == core.SeverityError {
			failed = true
		}
		fmt.Printf("%s: [%s] %s (code %d)\n", r.path, d.Severity, d.Message, d.Code)
	}
	if r.err != nil && len(r.diagnostics) == 0 {
		fmt.Printf("%s: %s\n", r.path, r.err.Error())
	}
	if r.shader == nil {
		return failed
	}

	eps := r.shader.Module.Entrypoints()
	names := make([]string, 0, len(eps))
	for _, ep := range eps {
		names = append(names, fmt.Sprintf("%s(%s)", ep.Name, ep.Model))
	}
	fmt.Printf("%s: ok, entry points %v\n", r.path, names)

	if *slots {
		for _, s := range r.shader.DescriptorSlots() {
			access := "read"
			if s.Writable {
				access = "read/write"
			}
			fmt.Printf("  %s set=%d binding=%d %s %s\n", s.Entrypoint, s.Set, s.Binding, access, s.Type)
		}
	}
	return failed
}
