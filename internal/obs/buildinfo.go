package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "veriflow_build_info",
			Help: "Build information of the running Veriflow binary.",
		},
		[]string{"service", "version", "commit"},
	)
)

// InitBuildInfo registers the build info metric once and sets the labels for
// this binary. Each Veriflow binary (api, dispatcher) reports under its own
// service label.
func InitBuildInfo(service, version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(service, version, commit).Set(1)
}
