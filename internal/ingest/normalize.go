package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/amishk599/leadflow/internal/model"
)

var errProviderRecordError = errors.New("provider returned an error record")

// flexString accepts JSON strings and numbers. Providers are inconsistent about
// years and dates.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexInt accepts numbers and strings like "500+" or "1,204".
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, strings.SplitN(string(s), ".", 2)[0])
	if digits == "" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return nil
	}
	*f = flexInt(n)
	return nil
}

type deepScrapeRecord struct {
	URL      string `json:"url"`
	InputURL string `json:"input_url"`
	Input    struct {
		URL string `json:"url"`
	} `json:"input"`
	Name           string `json:"name"`
	Position       string `json:"position"`
	City           string `json:"city"`
	CountryCode    string `json:"country_code"`
	About          string `json:"about"`
	CurrentCompany struct {
		Name  string `json:"name"`
		Title string `json:"title"`
	} `json:"current_company"`
	CurrentCompanyName string `json:"current_company_name"`
	Experience         []struct {
		Title       string     `json:"title"`
		Company     string     `json:"company"`
		Location    string     `json:"location"`
		StartDate   flexString `json:"start_date"`
		EndDate     flexString `json:"end_date"`
		Description string     `json:"description"`
	} `json:"experience"`
	Education []struct {
		Title     string     `json:"title"`
		Degree    string     `json:"degree"`
		Field     string     `json:"field"`
		StartYear flexString `json:"start_year"`
		EndYear   flexString `json:"end_year"`
	} `json:"education"`
	Skills      []string `json:"skills"`
	Followers   flexInt  `json:"followers"`
	Connections flexInt  `json:"connections"`
	Error       string   `json:"error"`
	ErrorCode   string   `json:"error_code"`
}

type lookupRecord struct {
	FullName       string `json:"full_name"`
	Headline       string `json:"headline"`
	JobTitle       string `json:"job_title"`
	JobCompanyName string `json:"job_company_name"`
	LocationName   string `json:"location_name"`
	Summary        string `json:"summary"`
	LinkedInURL    string `json:"linkedin_url"`
	Experience     []struct {
		Company struct {
			Name string `json:"name"`
		} `json:"company"`
		Title struct {
			Name string `json:"name"`
		} `json:"title"`
		LocationNames []string   `json:"location_names"`
		StartDate     flexString `json:"start_date"`
		EndDate       flexString `json:"end_date"`
		Summary       string     `json:"summary"`
	} `json:"experience"`
	Education []struct {
		School struct {
			Name string `json:"name"`
		} `json:"school"`
		Degrees   []string   `json:"degrees"`
		Majors    []string   `json:"majors"`
		StartDate flexString `json:"start_date"`
		EndDate   flexString `json:"end_date"`
	} `json:"education"`
	Skills      []string `json:"skills"`
	Connections flexInt  `json:"linkedin_connections"`
}

// normalize converts one provider record into an EnrichmentRecord and returns
// the profile URL the provider reported for it.
func normalize(source model.Provider, raw json.RawMessage) (string, model.EnrichmentRecord, error) {
	switch source {
	case model.ProviderLookup:
		return normalizeLookup(raw)
	default:
		return normalizeDeepScrape(raw)
	}
}

func normalizeDeepScrape(raw json.RawMessage) (string, model.EnrichmentRecord, error) {
	var r deepScrapeRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", model.EnrichmentRecord{}, fmt.Errorf("decoding deep scrape record: %w", err)
	}

	profileURL := firstNonEmpty(r.InputURL, r.Input.URL, r.URL)
	if r.Error != "" || r.ErrorCode != "" {
		return profileURL, model.EnrichmentRecord{}, fmt.Errorf("%w: %s", errProviderRecordError, firstNonEmpty(r.Error, r.ErrorCode))
	}

	rec := model.EnrichmentRecord{
		Source:         model.ProviderDeepScrape,
		FullName:       r.Name,
		Headline:       r.Position,
		Location:       joinNonEmpty(", ", r.City, r.CountryCode),
		CurrentCompany: firstNonEmpty(r.CurrentCompany.Name, r.CurrentCompanyName),
		CurrentTitle:   r.CurrentCompany.Title,
		Summary:        r.About,
		Skills:         r.Skills,
		Followers:      int(r.Followers),
		Connections:    int(r.Connections),
	}
	for _, e := range r.Experience {
		rec.Experience = append(rec.Experience, model.Experience{
			Title:     e.Title,
			Company:   e.Company,
			Location:  e.Location,
			StartDate: string(e.StartDate),
			EndDate:   string(e.EndDate),
			Summary:   e.Description,
		})
	}
	for _, e := range r.Education {
		rec.Education = append(rec.Education, model.Education{
			School:    e.Title,
			Degree:    e.Degree,
			Field:     e.Field,
			StartYear: string(e.StartYear),
			EndYear:   string(e.EndYear),
		})
	}
	if rec.CurrentTitle == "" && len(rec.Experience) > 0 && rec.Experience[0].EndDate == "" {
		rec.CurrentTitle = rec.Experience[0].Title
	}
	return profileURL, rec, nil
}

func normalizeLookup(raw json.RawMessage) (string, model.EnrichmentRecord, error) {
	var r lookupRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", model.EnrichmentRecord{}, fmt.Errorf("decoding lookup record: %w", err)
	}

	rec := model.EnrichmentRecord{
		Source:         model.ProviderLookup,
		FullName:       r.FullName,
		Headline:       firstNonEmpty(r.Headline, r.JobTitle),
		Location:       r.LocationName,
		CurrentCompany: r.JobCompanyName,
		CurrentTitle:   r.JobTitle,
		Summary:        r.Summary,
		Skills:         r.Skills,
		Connections:    int(r.Connections),
	}
	for _, e := range r.Experience {
		rec.Experience = append(rec.Experience, model.Experience{
			Title:     e.Title.Name,
			Company:   e.Company.Name,
			Location:  strings.Join(e.LocationNames, "; "),
			StartDate: string(e.StartDate),
			EndDate:   string(e.EndDate),
			Summary:   e.Summary,
		})
	}
	for _, e := range r.Education {
		rec.Education = append(rec.Education, model.Education{
			School:    e.School.Name,
			Degree:    strings.Join(e.Degrees, ", "),
			Field:     strings.Join(e.Majors, ", "),
			StartYear: yearOf(string(e.StartDate)),
			EndYear:   yearOf(string(e.EndDate)),
		})
	}
	return r.LinkedInURL, rec, nil
}

// NormalizeURL reduces a profile URL to the form used for matching provider
// records to submitted profiles: no scheme, lowercase host without "www.", no
// query, fragment or trailing slash.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return strings.ToLower(raw)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	return host + strings.TrimRight(u.Path, "/")
}

func yearOf(date string) string {
	if len(date) >= 4 {
		return date[:4]
	}
	return date
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func joinNonEmpty(sep string, values ...string) string {
	var parts []string
	for _, v := range values {
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, sep)
}
