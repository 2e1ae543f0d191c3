package main

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/pprof"
	"os"
	"reflect"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/geosphere/quadtile/featureflag"
	quadtilehttp "github.com/geosphere/quadtile/http"
	"github.com/geosphere/quadtile/inspector"
	"github.com/geosphere/quadtile/loader"
	"github.com/geosphere/quadtile/models"
	"github.com/geosphere/quadtile/quadtree"
	"github.com/geosphere/quadtile/smoketest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
)

var (
	// The Quadtile version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "quadtile_info",
		Help:        "Quadtile information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr                string        `cli:""        env:"QUADTILE_ADDR"                  help:"Listening address for introspection clients."`
	AdminAddr           string        `cli:""        env:"QUADTILE_ADMIN_ADDR"            help:"Admin listening address."`
	Datasets            string        `cli:""        env:"QUADTILE_DATASETS"              help:"Path to the dataset configuration file."`
	CachePath           string        `cli:""        env:"QUADTILE_CACHE_PATH"            help:"Path to the tile disk cache. Empty disables caching."`
	LogLevel            string        `cli:""        env:"QUADTILE_LOG_LEVEL"             help:"Log level (debug|info|warning|error)."`
	LogIndent           bool          `cli:""        env:"QUADTILE_LOG_INDENT"            help:"Indent logs."`
	FrameDuration       time.Duration `cli:",hidden" env:"QUADTILE_FRAME_DURATION"        help:"The duration of an update frame."`
	OrbitPeriod         time.Duration `cli:",hidden" env:"QUADTILE_ORBIT_PERIOD"          help:"The duration of one full orbit of the driving camera."`
	SubdivideThreshold  int           `cli:",hidden" env:"QUADTILE_SUBDIVIDE_THRESHOLD"   help:"The screen-space size in pixels above which tiles subdivide."`
	InactiveTileTimeout time.Duration `cli:",hidden" env:"QUADTILE_INACTIVE_TILE_TIMEOUT" help:"How long inactive tile groups survive before eviction."`
	FeatureFlags        []string      `cli:",hidden" env:"QUADTILE_FEATURE_FLAGS"         help:"Comma separated feature flags"`
	Version             bool          `cli:""        env:"-"                              help:"Show version."`
	Help                bool          `cli:""        env:"-"                              help:"Show help."`
}

// namedPolicy renames a map policy after the dataset it serves, so logs and
// metric labels tell concurrent maps of the same kind apart.
type namedPolicy struct {
	quadtree.Policy
	name string
}

func (p namedPolicy) Name() string {
	return p.name
}

func main() {
	conf := config{
		Addr:                ":4000",
		AdminAddr:           ":18190",
		Datasets:            "datasets.yml",
		LogLevel:            logs.InfoLevel.String(),
		FrameDuration:       time.Millisecond * 33,
		OrbitPeriod:         time.Minute * 2,
		SubdivideThreshold:  384,
		InactiveTileTimeout: time.Second * 10,
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts the Quadtile tile cache server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	flags := featureflag.New(conf.FeatureFlags)

	datasets, err := loader.LoadDatasets(conf.Datasets)
	if err != nil {
		logs.Fatal(errors.New("loading dataset configuration failed").Wrap(err))
	}

	var cache *loader.DiskCache
	if conf.CachePath != "" {
		cache, err = openCache(conf.CachePath)
		if err != nil {
			logs.Fatal(err)
		}
		defer cache.Close()
	}

	client := &http.Client{
		Transport: metrics.HTTPTransport(http.DefaultTransport),
	}

	var maps []*quadtree.Map
	var queues []*loader.Queue

	for _, ds := range datasets {
		queue := loader.NewQueue(ds.Name, &loader.HTTPProducer{
			Dataset:     ds.Name,
			URLTemplate: ds.URL,
			Client:      client,
			Cache:       cache,
		})
		queue.Workers = ds.Workers
		queue.Capacity = ds.QueueSize
		queue.Start(ctx)
		queues = append(queues, queue)

		m := quadtree.NewMap(quadtree.Options{
			Policy:              namedPolicy{Policy: policyFor(ds.Kind), name: ds.Name},
			Scheduler:           queue,
			Dynamic:             true,
			MaxZoom:             ds.MaxZoom,
			InactiveTileTimeout: conf.InactiveTileTimeout,
			FeatureFlags:        flags,
		})
		m.Seed(models.ViewMain)
		maps = append(maps, m)
	}

	var firstFrame atomic.Bool
	go drive(ctx, conf, maps, &firstFrame)

	sources := make([]quadtilehttp.MapSource, len(maps))
	for i, m := range maps {
		sources[i] = m
	}

	var service http.ServeMux
	service.HandleFunc("/healthz", quadtilehttp.HandleHealthCheck)
	service.HandleFunc("/readyz", quadtilehttp.HandleReadyCheck(firstFrame.Load))
	service.HandleFunc("/version", quadtilehttp.HandleVersion(version))
	service.HandleFunc("/stats", quadtilehttp.HandleStats(sources...))
	service.HandleFunc("/snapshot", quadtilehttp.HandleSnapshot(sources...))
	service.HandleFunc("/smoke-test", smoketest.HandleSmokeTest(smoketest.Options{
		Threshold: float64(conf.SubdivideThreshold),
	}))

	flags.IfNotSet(featureflag.FlagDisableInspector, func() {
		ins := &inspector.Inspector{}
		for _, m := range maps {
			ins.Maps = append(ins.Maps, m)
		}
		service.Handle("/inspect", ins.Server())
	})

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", quadtilehttp.HandleHealthCheck)
	admin.HandleFunc("/ready", quadtilehttp.HandleReadyCheck(firstFrame.Load))
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("maps", len(maps)).
		Info("starting quadtile server")

	quadtilehttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			quadtilehttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)

	for _, queue := range queues {
		queue.Wait()
	}
}

// drive updates every map once per frame from a camera orbiting the globe.
// It stands in for the render loop of an embedding viewer.
func drive(ctx context.Context, conf config, maps []*quadtree.Map, firstFrame *atomic.Bool) {
	ticker := time.NewTicker(conf.FrameDuration)
	defer ticker.Stop()

	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return

		case now := <-ticker.C:
			angle := 2 * math.Pi * float64(now.Sub(start)) / float64(conf.OrbitPeriod)
			view := orbitView(angle)
			for _, m := range maps {
				m.Update(view, float64(conf.SubdivideThreshold))
			}
			firstFrame.Store(true)
		}
	}
}

func orbitView(angle float64) models.ViewState {
	position := models.Vec3{
		X: 3 * quadtree.GlobeRadius * math.Sin(angle),
		Z: 3 * quadtree.GlobeRadius * math.Cos(angle),
	}

	return models.ViewState{
		Mask:           models.ViewMain,
		Position:       position,
		Direction:      models.Mul(models.Normalized(position), -1),
		Up:             models.Vec3{Y: 1},
		FOVY:           math.Pi / 3,
		ViewportWidth:  1280,
		ViewportHeight: 800,
		Near:           1,
		Far:            1e9,
	}
}

func policyFor(kind string) quadtree.Policy {
	if kind == loader.DatasetKindElevation {
		return quadtree.ElevationPolicy{}
	}
	return quadtree.TexturePolicy{}
}

func openCache(path string) (*loader.DiskCache, error) {
	cache, err := loader.OpenDiskCache(path)
	if err != nil {
		return nil, errors.New("opening tile disk cache failed").
			WithTag("path", path).
			Wrap(err)
	}
	return cache, nil
}
