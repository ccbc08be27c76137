package httpapi

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/ecomonitor/ecomonitor/internal/envdata"
	"github.com/ecomonitor/ecomonitor/internal/metrics"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app. The handlers
// serialize aggregator results unchanged: partial provider failure is a
// 200 with typed per-subject errors, only malformed queries turn into 400s.
func RegisterRoutes(app *fiber.App, service *envdata.Service, m *metrics.Metrics, requestTimeout time.Duration) {
	if requestTimeout <= 0 {
		requestTimeout = 15 * time.Second
	}

	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	v1 := app.Group("/api/v1")

	v1.Get("/dashboard", func(c *fiber.Ctx) error {
		rq, err := parseResolveQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		subjects, err := parseSubjects(c.Query("subjects"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if len(subjects) == 0 {
			subjects = envdata.DashboardSubjects()
		}

		ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
		defer cancel()

		resp, err := service.Resolve(ctx, rq.toQuery(subjects))
		if err != nil {
			if errors.Is(err, envdata.ErrMalformedQuery) {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to resolve dashboard data")
		}

		return c.JSON(resp)
	})

	v1.Get("/aqi", subjectHandler(service, envdata.SubjectAirQuality, requestTimeout))
	v1.Get("/pollution", subjectHandler(service, envdata.SubjectPollution, requestTimeout))
	v1.Get("/birds", subjectHandler(service, envdata.SubjectBirds, requestTimeout))
	v1.Get("/birds/hotspots", subjectHandler(service, envdata.SubjectBirdHotspots, requestTimeout))
	v1.Get("/deforestation", subjectHandler(service, envdata.SubjectDeforestation, requestTimeout))
	v1.Get("/news", subjectHandler(service, envdata.SubjectNews, requestTimeout))
}

// subjectHandler serves one subject's result on a dedicated path. A
// malformed query for that subject is the caller's mistake and maps to a
// 400; everything else ships as a tagged result.
func subjectHandler(service *envdata.Service, subject envdata.Subject, requestTimeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rq, err := parseResolveQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
		defer cancel()

		resp, err := service.Resolve(ctx, rq.toQuery([]envdata.Subject{subject}))
		if err != nil {
			if errors.Is(err, envdata.ErrMalformedQuery) {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to resolve subject data")
		}

		result, ok := resp.Results[subject]
		if !ok {
			return fiber.NewError(fiber.StatusInternalServerError, "missing subject result")
		}
		if result.Status == envdata.StatusFailed && result.Error != nil &&
			result.Error.Kind == envdata.FailMalformedQuery {
			return fiber.NewError(fiber.StatusBadRequest, result.Error.Message)
		}

		return c.JSON(result)
	}
}

// resolveQuery holds the query parameters shared by every endpoint.
type resolveQuery struct {
	City    string
	Country string
	Region  string
	Lat     *float64 `validate:"omitempty,gte=-90,lte=90"`
	Lon     *float64 `validate:"omitempty,gte=-180,lte=180"`
	From    *time.Time
	To      *time.Time
}

func (r resolveQuery) toQuery(subjects []envdata.Subject) envdata.Query {
	q := envdata.Query{
		Subjects: subjects,
		City:     r.City,
		Country:  r.Country,
		Region:   r.Region,
	}
	if r.Lat != nil && r.Lon != nil {
		q.Location = &envdata.GeoPoint{Lat: *r.Lat, Lon: *r.Lon}
	}
	if r.From != nil && r.To != nil {
		q.Window = &envdata.TimeWindow{From: *r.From, To: *r.To}
	}
	return q
}

func parseResolveQuery(c *fiber.Ctx) (resolveQuery, error) {
	var q resolveQuery

	q.City = strings.TrimSpace(c.Query("city"))
	q.Country = strings.TrimSpace(c.Query("country"))
	q.Region = strings.TrimSpace(c.Query("region"))

	latStr := c.Query("lat")
	lonStr := c.Query("lon")
	if (latStr == "") != (lonStr == "") {
		return q, errors.New("lat and lon query parameters must come together")
	}
	if latStr != "" {
		lat, err := strconv.ParseFloat(latStr, 64)
		if err != nil {
			return q, errors.New("invalid lat value")
		}
		lon, err := strconv.ParseFloat(lonStr, 64)
		if err != nil {
			return q, errors.New("invalid lon value")
		}
		q.Lat, q.Lon = &lat, &lon
	}

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if (fromStr == "") != (toStr == "") {
		return q, errors.New("from and to query parameters must come together")
	}
	if fromStr != "" {
		from, err := parseTime(fromStr)
		if err != nil {
			return q, err
		}
		to, err := parseTime(toStr)
		if err != nil {
			return q, err
		}
		if to.Before(from) {
			return q, errors.New("to must not precede from")
		}
		q.From, q.To = &from, &to
	}

	if err := validate.Struct(q); err != nil {
		return q, err
	}

	return q, nil
}

func parseSubjects(raw string) ([]envdata.Subject, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	subjects := make([]envdata.Subject, 0, len(parts))
	for _, part := range parts {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		sub, ok := envdata.ParseSubject(name)
		if !ok {
			return nil, errors.New("unknown subject: " + name)
		}
		subjects = append(subjects, sub)
	}
	return subjects, nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
