package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pterm/pterm"

	"github.com/vexide/v5ctl/internal/api"
)

// stepTitles are the progress bar labels per transfer step.
var stepTitles = map[api.UploadStep]string{
	api.StepIni:      "INI",
	api.StepMonolith: "BIN",
	api.StepCold:     "COLD",
	api.StepHot:      "HOT",
}

func runUpload(args []string) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	hot := fs.String("hot", "", "path to the hot (user code) bin")
	cold := fs.String("cold", "", "path to the cold (library) bin")
	slot := fs.Int("slot", 0, "program slot, 1-8 as shown on the brain (required)")
	name := fs.String("name", "", "program name (default: binary file name)")
	description := fs.String("description", "Uploaded with v5d", "program description")
	icon := fs.String("icon", "question-mark", "program icon name")
	programType := fs.String("program-type", "Unknown", "text for the program type box")
	uncompressed := fs.Bool("uncompressed", false, "skip gzip compression of the binaries")
	after := fs.String("after", "show-screen", "after upload: none, run or show-screen")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: v5ctl upload [flags] <monolith.bin>")
		fmt.Fprintln(os.Stderr, "       v5ctl upload [flags] --hot <hot.bin> [--cold <cold.bin>]")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	monolith := fs.Arg(0)
	if (monolith == "") == (*hot == "" && *cold == "") {
		fmt.Fprintln(os.Stderr, "error: provide either a monolith bin or --hot/--cold bins")
		fs.Usage()
		os.Exit(1)
	}
	if *slot < 1 || *slot > 8 {
		fmt.Fprintln(os.Stderr, "error: -slot must be 1-8")
		os.Exit(1)
	}

	var afterUpload api.AfterUpload
	switch *after {
	case "none":
		afterUpload = api.AfterNothing
	case "run":
		afterUpload = api.AfterRun
	case "show-screen":
		afterUpload = api.AfterShowScreen
	default:
		fmt.Fprintf(os.Stderr, "error: unknown -after value %q\n", *after)
		os.Exit(1)
	}

	iconName, err := iconFile(*icon)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var data api.ProgramData
	primary := monolith
	if monolith != "" {
		data.Monolith = readBin(monolith)
	} else {
		if *hot != "" {
			data.Hot = readBin(*hot)
			primary = *hot
		}
		if *cold != "" {
			data.Cold = readBin(*cold)
			if primary == "" {
				primary = *cold
			}
		}
	}
	if *name == "" {
		base := filepath.Base(primary)
		*name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	client := dial()
	defer client.Close()

	err = client.Send(&api.Request{
		Command: api.CmdUploadProgram,
		Upload: &api.UploadRequest{
			Name:        *name,
			Description: *description,
			Icon:        iconName,
			ProgramType: *programType,
			Slot:        *slot,
			Compression: !*uncompressed,
			AfterUpload: afterUpload,
			Data:        data,
		},
	})
	if err != nil {
		pterm.Error.Printfln("%v", err)
		os.Exit(1)
	}

	watchTransfer(client)
}

// watchTransfer renders progress frames as one bar per transfer step until
// the terminal frame arrives.
// readBin reads a program binary from disk, exiting on failure.
func readBin(path string) []byte {
	data, err := os.ReadFile(path)
	if err != nil {
		pterm.Error.Printfln("%v", err)
		os.Exit(1)
	}
	return data
}

func watchTransfer(client *api.Client) {
	var (
		bar  *pterm.ProgressbarPrinter
		step api.UploadStep
	)
	finish := func() {
		if bar != nil {
			if bar.Current < bar.Total {
				bar.Add(bar.Total - bar.Current)
			}
			bar.Stop()
		}
	}

	for {
		resp, err := client.ReadResponse()
		if err != nil {
			finish()
			pterm.Error.Printfln("%v", err)
			os.Exit(1)
		}
		switch resp.Type {
		case api.RespProgress:
			if bar == nil || resp.Step != step {
				finish()
				title := stepTitles[resp.Step]
				if title == "" {
					title = string(resp.Step)
				}
				bar, _ = pterm.DefaultProgressbar.WithTotal(100).WithTitle(title).Start()
				step = resp.Step
			}
			if target := int(resp.Percent); target > bar.Current {
				bar.Add(target - bar.Current)
			}
		case api.RespComplete:
			if resp.Error != "" {
				if bar != nil {
					bar.Stop()
				}
				pterm.Error.Printfln("upload failed: %s", resp.Error)
				os.Exit(1)
			}
			finish()
			pterm.Success.Println("program uploaded")
			return
		}
	}
}
