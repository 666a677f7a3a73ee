package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"aslkit/pkg/asldata"
	"aslkit/pkg/config"
	"aslkit/pkg/imageio"
	"aslkit/pkg/reconstruction"
	"aslkit/pkg/visualization"
)

func main() {
	// Parse command line arguments
	pcaslPath := flag.String("pcasl", "", "ASL acquisition series: NIfTI file or BIDS dataset directory")
	m0Path := flag.String("m0", "", "M0 reference image: NIfTI file or BIDS dataset directory")
	maskPath := flag.String("mask", "", "Brain mask image (optional; default fits every voxel)")
	subject := flag.String("subject", "", "BIDS subject label when an input path is a dataset directory")
	session := flag.String("session", "", "BIDS session label when an input path is a dataset directory")
	model := flag.String("model", "cbf", "Reconstruction model: cbf, multite, multidw or t2")
	ldList := flag.String("ld", "", "Comma-separated labeling durations in ms")
	pldList := flag.String("pld", "", "Comma-separated post-labeling delays in ms")
	teList := flag.String("te", "", "Comma-separated echo times in ms (multite/t2 models)")
	dwList := flag.String("dw", "", "Comma-separated diffusion b-values (multidw model)")
	cbfPath := flag.String("cbf-map", "", "Pre-computed CBF map to skip the first fitting stage (multite/multidw)")
	attPath := flag.String("att-map", "", "Pre-computed ATT map to skip the first fitting stage (multite/multidw)")
	configPath := flag.String("config", "", "YAML configuration file")
	outputDir := flag.String("output", ".", "Directory to write the fitted parameter maps")
	saveSlices := flag.Bool("save-slices", false, "Render JPEG slice previews of each map")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	if *pcaslPath == "" || *m0Path == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *verbose {
		cfg.Output.Verbose = true
	}

	series, err := imageio.LoadSeries(resolveInput(*pcaslPath, *subject, *session, "asl"))
	if err != nil {
		log.Fatalf("Failed to load ASL series: %v", err)
	}
	m0, err := imageio.LoadVolume(resolveInput(*m0Path, *subject, *session, "m0scan"))
	if err != nil {
		log.Fatalf("Failed to load M0 image: %v", err)
	}

	timing := asldata.TimingParameters{
		LD:  parseFloats(*ldList),
		PLD: parseFloats(*pldList),
		TE:  parseFloats(*teList),
		DW:  parseFloats(*dwList),
	}
	data, err := asldata.New(series, m0, timing)
	if err != nil {
		log.Fatalf("Invalid ASL data: %v", err)
	}

	mapper, err := buildMapper(*model, data, cfg, *cbfPath, *attPath)
	if err != nil {
		log.Fatalf("Failed to configure %s mapping: %v", *model, err)
	}

	if *maskPath != "" {
		mask, err := imageio.LoadVolume(resolveInput(*maskPath, *subject, *session, "mask"))
		if err != nil {
			log.Fatalf("Failed to load brain mask: %v", err)
		}
		if err := mapper.SetBrainMask(mask, cfg.Mask.Label); err != nil {
			log.Fatalf("Failed to set brain mask: %v", err)
		}
	}

	opts := reconstruction.CreateOpts{
		LowerBounds:  cfg.Fitting.LowerBounds,
		UpperBounds:  cfg.Fitting.UpperBounds,
		InitialGuess: cfg.Fitting.InitialGuess,
		Cores:        cfg.Fitting.Cores,
		SmoothSigma:  cfg.Smoothing.Sigma,
	}

	log.Infof("Starting %s reconstruction", *model)
	startTime := time.Now()
	maps, err := mapper.CreateMap(opts)
	if err != nil {
		log.Fatalf("Reconstruction failed: %v", err)
	}
	log.Infof("Reconstruction completed in %.2f seconds", time.Since(startTime).Seconds())

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}
	names := make([]string, 0, len(maps))
	for name := range maps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		outPath := filepath.Join(*outputDir, fmt.Sprintf("%s.nii.gz", name))
		if err := imageio.SaveVolume(outPath, maps[name]); err != nil {
			log.Fatalf("Failed to save %s map: %v", name, err)
		}
		log.Infof("Saved %s map to %s", name, outPath)

		if *saveSlices || cfg.Output.SaveSlices {
			viewer := visualization.NewViewer(maps[name])
			sliceDir := filepath.Join(*outputDir, "slices")
			if err := viewer.SaveSliceSequence("z", sliceDir, name); err != nil {
				log.Warnf("Failed to save %s slice previews: %v", name, err)
			}
		}
	}
}

// buildMapper wires the selected model variant, attaching any pre-computed
// maps the composite variants accept.
func buildMapper(model string, data *asldata.ASLData, cfg *config.Config, cbfPath, attPath string) (reconstruction.Mapper, error) {
	switch model {
	case "cbf":
		m, err := reconstruction.NewCBFMapping(data)
		if err != nil {
			return nil, err
		}
		m.SetConstants(cfg.Constants)
		return m, nil

	case "multite":
		m, err := reconstruction.NewMultiTE(data)
		if err != nil {
			return nil, err
		}
		m.SetConstants(cfg.Constants)
		if err := attachBasicMaps(cbfPath, attPath, m.SetCBFMap, m.SetATTMap); err != nil {
			return nil, err
		}
		return m, nil

	case "multidw":
		m, err := reconstruction.NewMultiDW(data)
		if err != nil {
			return nil, err
		}
		m.SetConstants(cfg.Constants)
		if err := attachBasicMaps(cbfPath, attPath, m.SetCBFMap, m.SetATTMap); err != nil {
			return nil, err
		}
		return m, nil

	case "t2":
		return reconstruction.NewT2Scalar(data)

	default:
		return nil, fmt.Errorf("unknown model %q (expected cbf, multite, multidw or t2)", model)
	}
}

// attachBasicMaps loads and attaches optional pre-computed CBF/ATT maps.
func attachBasicMaps(cbfPath, attPath string, setCBF, setATT func(*asldata.Volume) error) error {
	if cbfPath != "" {
		cbf, err := imageio.LoadVolume(cbfPath)
		if err != nil {
			return err
		}
		if err := setCBF(cbf); err != nil {
			return err
		}
	}
	if attPath != "" {
		att, err := imageio.LoadVolume(attPath)
		if err != nil {
			return err
		}
		if err := setATT(att); err != nil {
			return err
		}
	}
	return nil
}

// resolveInput maps an input argument to a loadable image file, resolving
// BIDS dataset directories by subject/session/suffix.
func resolveInput(path, subject, session, suffix string) string {
	resolved, err := imageio.ResolveImagePath(path, imageio.BIDSQuery{
		Subject: subject,
		Session: session,
		Suffix:  suffix,
	})
	if err != nil {
		log.Fatalf("Failed to resolve %s image in %s: %v", suffix, path, err)
	}
	if resolved != path {
		log.Debugf("Resolved %s image to %s", suffix, resolved)
	}
	return resolved
}

// parseFloats parses a comma-separated list of numbers; an empty string
// yields nil.
func parseFloats(s string) []float64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			log.Fatalf("Invalid numeric value %q: %v", p, err)
		}
		out = append(out, v)
	}
	return out
}
