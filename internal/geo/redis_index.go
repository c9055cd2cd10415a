package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/models"
)

// RedisIndex implements Index with Redis GEO commands plus a per
// driver metadata hash, shared with the location consumer process.
type RedisIndex struct {
	client *redis.Client
	key    string
}

func NewRedisIndex(addr, password, key string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, key: key}
}

func (r *RedisIndex) Upsert(ctx context.Context, loc models.DriverLocation) error {
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: loc.Loc.Lon,
		Latitude:  loc.Loc.Lat,
		Name:      loc.DriverID,
	}).Result(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(loc.DriverID), map[string]interface{}{
		"available": strconv.FormatBool(loc.Available),
		"updated":   time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisIndex) Near(ctx context.Context, center models.Coord, radiusKm float64) ([]models.DriverLocation, error) {
	res, err := r.client.GeoSearchLocation(ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lon,
			Latitude:   center.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.DriverLocation, 0, len(res))
	for _, g := range res {
		loc := models.DriverLocation{
			DriverID: g.Name,
			Loc:      models.Coord{Lat: g.Latitude, Lon: g.Longitude},
		}
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			loc.Available = m["available"] == "true"
			if ts, err := time.Parse(time.RFC3339, m["updated"]); err == nil {
				loc.Updated = ts
			}
		}
		out = append(out, loc)
	}
	return out, nil
}

func (r *RedisIndex) CountNear(ctx context.Context, center models.Coord, radiusKm float64) (int, error) {
	locs, err := r.Near(ctx, center, radiusKm)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, l := range locs {
		if l.Available {
			n++
		}
	}
	return n, nil
}

func metaKey(id string) string { return "driver:meta:" + id }
