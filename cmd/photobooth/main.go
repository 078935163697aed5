// Command photobooth runs the kiosk: it opens the camera, renders the live
// preview with the selected filter, and serves the local HTTP backend the
// kiosk UI talks to.
//
// Examples:
//
//	# List available devices and quit.
//	photobooth -listdevices
//
//	# Run with config.yaml from the working directory.
//	photobooth
//
//	# Run with ffmpeg as recorder and an explicit device.
//	photobooth -recorder ffmpeg -device /dev/video0 -verbose
//
//	# Run without a camera, repeating a still image.
//	photobooth -recorder still -still testdata/face.jpg
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"go.uber.org/zap"

	photobooth "github.com/snapbooth/photobooth-go"
	"github.com/snapbooth/photobooth-go/camera"
	"github.com/snapbooth/photobooth-go/camera/ffmpeg"
	"github.com/snapbooth/photobooth-go/camera/gstreamer"
	"github.com/snapbooth/photobooth-go/camera/imagesnap"
	"github.com/snapbooth/photobooth-go/catalog"
	"github.com/snapbooth/photobooth-go/composite"
	"github.com/snapbooth/photobooth-go/config"
	"github.com/snapbooth/photobooth-go/facedetect"
	"github.com/snapbooth/photobooth-go/filter"
	"github.com/snapbooth/photobooth-go/pipeline"
	"github.com/snapbooth/photobooth-go/server"
	"github.com/snapbooth/photobooth-go/share"
)

var (
	configPath   string
	listDevices  bool
	recorderType string
	deviceID     string
	stillPath    string
	verbose      bool
)

func init() {
	flag.StringVar(&configPath, "config", "config.yaml", "config file, defaults are used if it does not exist")
	flag.BoolVar(&listDevices, "listdevices", false, "if set, lists devices and exits")
	flag.StringVar(&recorderType, "recorder", "", "type of recorder to use, overrides the config: imagesnap on macOS; gstreamer or ffmpeg on linux; still for a fixed image")
	flag.StringVar(&deviceID, "device", "", "device ID to use, overrides the config; by default, the first device returned when listing devices")
	flag.StringVar(&stillPath, "still", "", "image file for the still recorder")
	flag.BoolVar(&verbose, "verbose", false, "print verbose output")
}

func usage() {
	log.Println("usage: photobooth [flags]")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	log.SetFlags(0)
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 0 {
		usage()
	}
	os.Exit(main0())
}

func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

func defaultRecorder() string {
	if runtime.GOOS == "darwin" {
		return "imagesnap"
	}
	return "gstreamer"
}

func main0() int {
	cfg, err := loadConfig()
	if err != nil {
		log.Printf("loading config: %v", err)
		return 1
	}
	if recorderType != "" {
		cfg.Camera.Recorder = recorderType
	}
	if cfg.Camera.Recorder == "" {
		cfg.Camera.Recorder = defaultRecorder()
	}
	if deviceID != "" {
		cfg.Camera.Device = deviceID
	}
	if stillPath != "" {
		cfg.Camera.Still = stillPath
	}

	logger, err := photobooth.NewLogger(cfg.Server.Mode)
	if err != nil {
		log.Printf("new logger: %v", err)
		return 1
	}
	defer logger.Sync()

	ropts := recorderOpts{Logger: logger, Verbose: verbose}
	var listFn func() ([]camera.Device, error)
	var opener camera.Opener
	switch cfg.Camera.Recorder {
	case "imagesnap":
		listFn = imagesnap.ListDevices
		opener = imagesnap.Opener(imagesnap.RecorderOpts(ropts))
	case "gstreamer":
		listFn = gstreamer.ListDevices
		opener = gstreamer.Opener(gstreamer.RecorderOpts(ropts))
	case "ffmpeg":
		listFn = ffmpeg.ListDevices
		opener = ffmpeg.Opener(ffmpeg.RecorderOpts(ropts))
	case "still":
		if cfg.Camera.Still == "" {
			log.Printf("still recorder needs an image, set -still")
			return 1
		}
		opener = camera.StillOpener(cfg.Camera.Still)
	default:
		log.Printf("unknown recorder type %q", cfg.Camera.Recorder)
		return 1
	}

	if listDevices {
		if listFn == nil {
			log.Printf("recorder %q has no devices", cfg.Camera.Recorder)
			return 1
		}
		devs, err := listFn()
		if err != nil {
			log.Printf("listing devices: %v", err)
			return 1
		}
		for _, dev := range devs {
			caps := ""
			if len(dev.Caps) > 0 {
				l := []string{}
				for _, c := range dev.Caps {
					l = append(l, fmt.Sprintf("%dx%d@%dfps", c.Width, c.Height, c.Framerate))
				}
				caps = fmt.Sprintf(" (caps: %s)", strings.Join(l, " "))
			}
			fmt.Printf("%s: %s%s\n", dev.ID, dev.Name, caps)
		}
		return 0
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	frames := catalog.New(cfg.Frames.Dir, &catalog.Opts{Logger: logger})
	if cfg.Frames.Watch {
		go func() {
			if err := frames.Watch(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("watching frames", zap.Error(err))
			}
		}()
	}

	preview := server.NewBroadcaster(&server.BroadcasterOpts{
		Logger:  logger,
		Quality: cfg.Pipeline.PreviewQuality,
	})
	go preview.Run(ctx)

	adj := cfg.Pipeline.Adjustments.Clamped()
	pl := pipeline.New(opener, &pipeline.Opts{
		Logger:  logger,
		Verbose: verbose,
		Constraints: camera.Constraints{
			DeviceID: cfg.Camera.Device,
			Width:    cfg.Camera.Width,
			Height:   cfg.Camera.Height,
			Interval: cfg.Camera.Interval,
		},
		DefaultFilter:       filter.ID(cfg.Pipeline.DefaultFilter),
		Adjustments:         &adj,
		EnableFaceDetection: cfg.Pipeline.EnableFaceDetection,
		LoadDetector:        detectorLoader(cfg.Pipeline, logger),
		DetectionStride:     cfg.Pipeline.DetectionStride,
		SmoothWindow:        cfg.Pipeline.SmoothWindow,
		Sinks:               []pipeline.Sink{preview},
		OnFaceDetection: func(present bool) {
			if verbose {
				logger.Debug("face detection", zap.Bool("present", present))
			}
		},
	})
	if err := pl.Start(ctx); err != nil {
		log.Printf("starting camera pipeline: %v", err)
		return 1
	}
	defer pl.Stop()

	sopts, err := serverOpts(cfg, logger)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}
	sopts.Camera = pl
	sopts.Frames = frames
	sopts.Preview = preview
	srv, err := server.New(sopts)
	if err != nil {
		log.Printf("new server: %v", err)
		return 1
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe(ctx, cfg.Server.Port, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
	}()

	select {
	case err := <-errc:
		if err != nil {
			logger.Error("server", zap.Error(err))
			return 1
		}
	case <-ctx.Done():
		<-errc
	}
	logger.Info("stopping", zap.Any("stats", pl.Stats()))
	return 0
}

// recorderOpts is the shape shared by the recorder backends' options.
type recorderOpts struct {
	Logger  *zap.Logger
	Verbose bool
}

func detectorLoader(cfg config.PipelineConfig, logger *zap.Logger) func(ctx context.Context) (photobooth.Detector, error) {
	return func(ctx context.Context) (photobooth.Detector, error) {
		if cfg.DetectorProcess != "" {
			d, err := photobooth.NewDetectorProcess(cfg.DetectorProcess, &photobooth.DetectorOpts{Logger: logger})
			if err != nil {
				return nil, fmt.Errorf("%w: %v", photobooth.ErrDetectionUnavailable, err)
			}
			return d, nil
		}
		d, err := facedetect.Load(cfg.CascadePath, &facedetect.Opts{Logger: logger})
		if err != nil {
			return nil, err
		}
		return d, nil
	}
}

func serverOpts(cfg *config.Config, logger *zap.Logger) (*server.Opts, error) {
	policy, err := composite.ParsePolicy(cfg.Composite.Policy)
	if err != nil {
		return nil, err
	}
	mode, err := composite.ParseMode(cfg.Composite.FrameMode)
	if err != nil {
		return nil, err
	}
	align, err := composite.ParseAlignment(cfg.Composite.Alignment)
	if err != nil {
		return nil, err
	}

	opts := &server.Opts{
		Logger:        logger,
		Mode:          cfg.Server.Mode,
		PhotosDir:     cfg.Storage.PhotosDir,
		PublicURL:     cfg.Server.PublicURL,
		PreviewWidth:  cfg.Frames.PreviewWidth,
		PreviewHeight: cfg.Frames.PreviewHeight,
		Composite:     composite.Opts{DPI: cfg.Composite.DPI, Gap: cfg.Composite.Gap, Policy: policy},
		Frame:         composite.FrameOpts{Mode: mode, Alignment: align, DPI: cfg.Composite.DPI},
		PaymentAmount: cfg.Payment.Amount,
	}

	if cfg.Payment.Store == "redis" {
		rc := cfg.Payment.Redis
		payments := server.NewRedisPayments(server.RedisOpts{Addr: rc.Addr, Password: rc.Password, DB: rc.DB, TTL: rc.TTL})
		if err := payments.Ping(context.Background()); err != nil {
			logger.Warn("redis connection failed, payments kept in memory", zap.Error(err))
			payments.Close()
		} else {
			opts.Payments = payments
		}
	}

	if cfg.Share.BaseURL != "" {
		u, err := share.NewUploader(cfg.Share.BaseURL, cfg.Share.APIKey, cfg.Share.HMACKey)
		if err != nil {
			return nil, fmt.Errorf("share uploader: %w", err)
		}
		opts.Sharer = u
	}
	return opts, nil
}
