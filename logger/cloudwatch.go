package logger

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// maxDatumsPerPut is the PutMetricData request limit.
const maxDatumsPerPut = 1000

// CloudWatchOptions selects where capture metrics and the dashboard go.
type CloudWatchOptions struct {
	Region    string
	Namespace string
	Dashboard string
}

type cloudWatchPublisher struct {
	client    *cloudwatch.Client
	namespace string
	dashboard string
}

var (
	cwMu        sync.RWMutex
	cwPublisher *cloudWatchPublisher
)

// InitCloudWatch enables metric publishing and puts a dashboard with one
// series per feed. Without a region in opts, AWS_REGION is used. Failures
// leave publishing disabled.
func InitCloudWatch(ctx context.Context, opts CloudWatchOptions, feeds []string) {
	log := GetLogger().WithComponent("cloudwatch")

	if opts.Region == "" {
		opts.Region = os.Getenv("AWS_REGION")
	}
	if opts.Namespace == "" {
		opts.Namespace = "SpreadFlow"
	}
	if opts.Dashboard == "" {
		opts.Dashboard = opts.Namespace
	}

	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	p := &cloudWatchPublisher{
		client:    cloudwatch.NewFromConfig(awsCfg),
		namespace: opts.Namespace,
		dashboard: opts.Dashboard,
	}
	cwMu.Lock()
	cwPublisher = p
	cwMu.Unlock()

	log.WithFields(Fields{"region": opts.Region, "namespace": p.namespace, "feeds": len(feeds)}).Info("initialized CloudWatch client")

	p.putDashboard(ctx, feeds)
}

func currentPublisher() *cloudWatchPublisher {
	cwMu.RLock()
	defer cwMu.RUnlock()
	return cwPublisher
}

// publishMetrics sends data in request-sized chunks. It is a no-op until
// InitCloudWatch succeeded.
func publishMetrics(ctx context.Context, data []cwtypes.MetricDatum) {
	p := currentPublisher()
	if p == nil || len(data) == 0 {
		return
	}
	log := GetLogger().WithComponent("cloudwatch")

	for _, chunk := range chunkDatums(data, maxDatumsPerPut) {
		if _, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(p.namespace),
			MetricData: chunk,
		}); err != nil {
			log.WithError(err).WithFields(Fields{"datums": len(chunk)}).Warn("failed to publish CloudWatch metrics")
			return
		}
	}
	log.WithFields(Fields{"datums": len(data)}).Debug("published metrics to CloudWatch")
}

func chunkDatums(data []cwtypes.MetricDatum, size int) [][]cwtypes.MetricDatum {
	var chunks [][]cwtypes.MetricDatum
	for len(data) > size {
		chunks = append(chunks, data[:size])
		data = data[size:]
	}
	if len(data) > 0 {
		chunks = append(chunks, data)
	}
	return chunks
}

func (p *cloudWatchPublisher) putDashboard(ctx context.Context, feeds []string) {
	log := GetLogger().WithComponent("cloudwatch")

	body, err := dashboardBody(p.namespace, feeds)
	if err != nil {
		log.WithError(err).Warn("failed to render CloudWatch dashboard")
		return
	}
	if _, err := p.client.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(p.dashboard),
		DashboardBody: aws.String(string(body)),
	}); err != nil {
		log.WithError(err).Warn("failed to create CloudWatch dashboard")
	}
}

type dashboard struct {
	Widgets []widget `json:"widgets"`
}

type widget struct {
	Type       string           `json:"type"`
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	Properties widgetProperties `json:"properties"`
}

type widgetProperties struct {
	Metrics [][]string `json:"metrics"`
	Period  int        `json:"period"`
	Stat    string     `json:"stat"`
	Title   string     `json:"title"`
}

// dashboardBody renders a system widget plus one widget per feed metric.
// Feed series carry the same Feed dimension logReport publishes.
func dashboardBody(namespace string, feeds []string) ([]byte, error) {
	metricWidget := func(title, stat string, metrics [][]string) widget {
		return widget{
			Type:   "metric",
			Width:  12,
			Height: 6,
			Properties: widgetProperties{
				Metrics: metrics,
				Period:  60,
				Stat:    stat,
				Title:   title,
			},
		}
	}

	d := dashboard{Widgets: []widget{
		metricWidget("Capture host", "Average", [][]string{
			{namespace, "CPUPercent"},
			{namespace, "MemoryMB"},
		}),
	}}

	for _, m := range []struct{ name, title string }{
		{"FeedFrames", "Frames per feed"},
		{"FeedDecodeErrors", "Decode errors per feed"},
		{"FeedBytes", "Bytes per feed"},
	} {
		lines := make([][]string, 0, len(feeds))
		for _, feed := range feeds {
			lines = append(lines, []string{namespace, m.name, "Feed", feed})
		}
		if len(lines) > 0 {
			d.Widgets = append(d.Widgets, metricWidget(m.title, "Maximum", lines))
		}
	}

	return json.Marshal(d)
}
