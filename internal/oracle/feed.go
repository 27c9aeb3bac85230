package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/shopspring/decimal"
)

// Feed is the production Oracle. The market feed publishes the latest spot
// price into Redis; Update samples it into an InfluxDB bucket, and TWAP is
// the mean of the sampled window.
type Feed struct {
	redis    *redis.Client
	spotKey  string
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
	window   time.Duration
}

// FeedConfig wires the feed's backing stores.
type FeedConfig struct {
	RedisURL    string
	SpotKey     string
	InfluxURL   string
	InfluxToken string
	InfluxOrg   string
	Bucket      string
	Window      time.Duration
}

func NewFeed(cfg FeedConfig) *Feed {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	influx := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)

	spotKey := cfg.SpotKey
	if spotKey == "" {
		spotKey = "pegflow:spot"
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Hour
	}

	return &Feed{
		redis:    rdb,
		spotKey:  spotKey,
		writeAPI: influx.WriteAPIBlocking(cfg.InfluxOrg, cfg.Bucket),
		queryAPI: influx.QueryAPI(cfg.InfluxOrg),
		bucket:   cfg.Bucket,
		window:   window,
	}
}

func (f *Feed) Consult(ctx context.Context) (decimal.Decimal, error) {
	raw, err := f.redis.Get(ctx, f.spotKey).Result()
	if err == redis.Nil {
		return decimal.Zero, ErrNoPrice
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read spot price: %w", err)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed spot price %q: %w", raw, err)
	}
	return price, nil
}

// Update samples the current spot into the TWAP window.
func (f *Feed) Update(ctx context.Context) error {
	spot, err := f.Consult(ctx)
	if err != nil {
		return err
	}

	value, _ := spot.Float64()
	point := influxdb2.NewPoint("cash_price",
		nil,
		map[string]interface{}{"price": value},
		time.Now(),
	)
	if err := f.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to record price sample: %w", err)
	}
	return nil
}

func (f *Feed) TWAP(ctx context.Context) (decimal.Decimal, error) {
	query := fmt.Sprintf(`
		from(bucket: %q)
		  |> range(start: -%s)
		  |> filter(fn: (r) => r._measurement == "cash_price" and r._field == "price")
		  |> mean()`,
		f.bucket, f.window)

	result, err := f.queryAPI.Query(ctx, query)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query TWAP: %w", err)
	}
	defer result.Close()

	if !result.Next() {
		if result.Err() != nil {
			return decimal.Zero, fmt.Errorf("failed to read TWAP: %w", result.Err())
		}
		return decimal.Zero, ErrNoPrice
	}

	value, ok := result.Record().Value().(float64)
	if !ok {
		return decimal.Zero, fmt.Errorf("unexpected TWAP value %v", result.Record().Value())
	}
	return decimal.NewFromFloat(value), nil
}
