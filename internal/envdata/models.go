package envdata

import (
	"time"
)

// Subject identifies one environmental data domain served by the aggregator.
type Subject string

const (
	SubjectAirQuality    Subject = "airQuality"
	SubjectPollution     Subject = "pollution"
	SubjectBirds         Subject = "birds"
	SubjectBirdHotspots  Subject = "birdHotspots"
	SubjectDeforestation Subject = "deforestation"
	SubjectNews          Subject = "news"
)

// AllSubjects lists every subject the aggregator can serve.
func AllSubjects() []Subject {
	return []Subject{
		SubjectAirQuality,
		SubjectPollution,
		SubjectBirds,
		SubjectBirdHotspots,
		SubjectDeforestation,
		SubjectNews,
	}
}

// DashboardSubjects is the default set resolved for the dashboard view.
// Hotspots are reference data and only fetched when asked for explicitly.
func DashboardSubjects() []Subject {
	return []Subject{
		SubjectAirQuality,
		SubjectPollution,
		SubjectBirds,
		SubjectDeforestation,
		SubjectNews,
	}
}

// ParseSubject converts a wire string into a known Subject.
func ParseSubject(s string) (Subject, bool) {
	for _, sub := range AllSubjects() {
		if string(sub) == s {
			return sub, true
		}
	}
	return "", false
}

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// TimeWindow bounds a query in time. Both ends are inclusive.
type TimeWindow struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// NormalizedRecord is the provider-independent shape every adapter maps into.
// It is a superset across all subjects; sections that do not apply to the
// subject stay nil and serialize as explicit JSON null so consumers can tell
// "not applicable" apart from "provider omitted it".
type NormalizedRecord struct {
	Subject   Subject   `json:"subject"`
	Provider  string    `json:"provider"`
	FetchedAt time.Time `json:"fetchedAt"`

	Location *GeoPoint `json:"location"`

	AirQuality    *AirQualityData    `json:"airQuality"`
	Pollution     *PollutionData     `json:"pollution"`
	Birds         *BirdData          `json:"birds"`
	BirdHotspots  *BirdHotspotData   `json:"birdHotspots"`
	Deforestation *DeforestationData `json:"deforestation"`
	News          *NewsData          `json:"news"`
}

// AirQualityData carries a normalized air quality index reading.
type AirQualityData struct {
	Index             int                `json:"index"`
	Category          string             `json:"category"`
	CategoryColor     string             `json:"categoryColor"`
	DominantPollutant string             `json:"dominantPollutant"`
	Pollutants        map[string]float64 `json:"pollutants"`
	Station           string             `json:"station"`
	ObservedAt        string             `json:"observedAt"`
}

// PollutionData carries raw measurement sites for a country.
type PollutionData struct {
	Country   string             `json:"country"`
	SiteCount int                `json:"siteCount"`
	Sites     []PollutionSite    `json:"sites"`
	Averages  map[string]float64 `json:"averages"`
}

// PollutionSite is a single monitoring location with its latest measurements.
type PollutionSite struct {
	Name         string        `json:"name"`
	City         string        `json:"city"`
	Coordinates  *GeoPoint     `json:"coordinates"`
	Measurements []Measurement `json:"measurements"`
}

// Measurement is one pollutant reading at a site.
type Measurement struct {
	Parameter   string  `json:"parameter"`
	Value       float64 `json:"value"`
	Unit        string  `json:"unit"`
	LastUpdated string  `json:"lastUpdated"`
}

// BirdData carries recent bird observations for a region.
type BirdData struct {
	Region       string         `json:"region"`
	Total        int            `json:"total"`
	SpeciesCount int            `json:"speciesCount"`
	Sightings    []BirdSighting `json:"sightings"`
	TopSpecies   []SpeciesCount `json:"topSpecies"`
}

// BirdSighting is a single observation report.
type BirdSighting struct {
	CommonName     string    `json:"commonName"`
	ScientificName string    `json:"scientificName"`
	Count          int       `json:"count"`
	LocationName   string    `json:"locationName"`
	ObservedAt     string    `json:"observedAt"`
	Coordinates    *GeoPoint `json:"coordinates"`
}

// SpeciesCount pairs a species with its sighting total.
type SpeciesCount struct {
	CommonName string `json:"commonName"`
	Count      int    `json:"count"`
}

// BirdHotspotData carries birding hotspots near a coordinate.
type BirdHotspotData struct {
	Count    int           `json:"count"`
	Hotspots []BirdHotspot `json:"hotspots"`
}

// BirdHotspot is a single hotspot reference entry.
type BirdHotspot struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Coordinates   *GeoPoint `json:"coordinates"`
	SpeciesAll    int       `json:"speciesAllTime"`
	LatestObsDate string    `json:"latestObsDate"`
}

// DeforestationData carries forest change summary statistics.
type DeforestationData struct {
	TotalLossHa         float64 `json:"totalLossHa"`
	AnnualAvgLossHa     float64 `json:"annualAvgLossHa"`
	PrimaryForestLossHa float64 `json:"primaryForestLossHa"`
	PeriodStart         int     `json:"periodStart"`
	PeriodEnd           int     `json:"periodEnd"`
	Source              string  `json:"source"`
}

// NewsData carries environment news headlines.
type NewsData struct {
	Count    int           `json:"count"`
	Articles []NewsArticle `json:"articles"`
}

// NewsArticle is one headline entry.
type NewsArticle struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Source      string `json:"source"`
	PublishedAt string `json:"publishedAt"`
	Summary     string `json:"summary"`
}

// ResultStatus discriminates the per-subject outcome variants.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusStale   ResultStatus = "stale"
	StatusFailed  ResultStatus = "failed"
)

// DomainResult is the tagged per-subject outcome. A response carries exactly
// one of these per requested subject regardless of upstream health.
type DomainResult struct {
	Subject   Subject           `json:"subject"`
	Status    ResultStatus      `json:"status"`
	Data      *NormalizedRecord `json:"data"`
	FetchedAt *time.Time        `json:"fetchedAt"`
	Error     *ProviderError    `json:"error"`
}

// SuccessResult builds a fresh success outcome.
func SuccessResult(subject Subject, rec *NormalizedRecord) DomainResult {
	ts := rec.FetchedAt
	return DomainResult{
		Subject:   subject,
		Status:    StatusSuccess,
		Data:      rec,
		FetchedAt: &ts,
	}
}

// StaleResult builds an outcome for data past its soft freshness threshold
// but still inside the hard TTL.
func StaleResult(subject Subject, rec *NormalizedRecord) DomainResult {
	ts := rec.FetchedAt
	return DomainResult{
		Subject:   subject,
		Status:    StatusStale,
		Data:      rec,
		FetchedAt: &ts,
	}
}

// FailureResult builds a typed failure outcome.
func FailureResult(subject Subject, perr *ProviderError) DomainResult {
	return DomainResult{
		Subject: subject,
		Status:  StatusFailed,
		Error:   perr,
	}
}

// AggregatedResponse is the merged view returned to callers.
type AggregatedResponse struct {
	RequestID   string                   `json:"requestId"`
	GeneratedAt time.Time                `json:"generatedAt"`
	ElapsedMS   int64                    `json:"elapsedMs"`
	Results     map[Subject]DomainResult `json:"results"`
}
