package sounds

import (
	"encoding/json"
	"fmt"
)

// Titles of a programme or episode.
type Titles struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary,omitempty"`
}

// Synopses holds the short, medium and long descriptions. Any may be empty.
type Synopses struct {
	Short  string `json:"short,omitempty"`
	Medium string `json:"medium,omitempty"`
	Long   string `json:"long,omitempty"`
}

// Shortest returns the shortest synopsis available.
func (s Synopses) Shortest() string {
	return firstNonEmpty(s.Short, s.Medium, s.Long)
}

// Longest returns the longest synopsis available.
func (s Synopses) Longest() string {
	return firstNonEmpty(s.Long, s.Medium, s.Short)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Network is the station that broadcast a programme.
type Network struct {
	ShortTitle string `json:"short_title"`
}

// Duration in seconds.
type Duration struct {
	Value int64 `json:"value"`
}

// Release carries the RFC 3339 release date of an episode.
type Release struct {
	Date string `json:"date"`
}

// QualityVariant is one public download rendition.
type QualityVariant struct {
	FileURL  string `json:"file_url,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

// QualityVariants lists the public download renditions by quality.
type QualityVariants struct {
	Low    *QualityVariant `json:"low,omitempty"`
	Medium *QualityVariant `json:"medium,omitempty"`
	High   *QualityVariant `json:"high,omitempty"`
}

// Best returns the highest quality rendition present, or nil.
func (q QualityVariants) Best() *QualityVariant {
	switch {
	case q.High != nil:
		return q.High
	case q.Medium != nil:
		return q.Medium
	default:
		return q.Low
	}
}

// Download describes how an episode can be downloaded.
type Download struct {
	Type            string          `json:"type"`
	QualityVariants QualityVariants `json:"quality_variants"`
}

// Show is the programme-level metadata of a container.
type Show struct {
	ID       string   `json:"id"`
	Titles   Titles   `json:"titles"`
	Synopses Synopses `json:"synopses"`
	Network  Network  `json:"network"`
	ImageURL string   `json:"image_url,omitempty"`
}

// Episode is one entry of a programme's episode list.
type Episode struct {
	ID       string   `json:"id"`
	Titles   Titles   `json:"titles"`
	Synopses Synopses `json:"synopses"`
	Duration Duration `json:"duration"`
	Release  Release  `json:"release"`
	Download Download `json:"download"`
	ImageURL string   `json:"image_url,omitempty"`
}

// Programme is a decoded container response: the show and its episodes.
type Programme struct {
	Show     Show
	Episodes []Episode
}

// containerResponse is the raw container payload. Each element of Data is
// tagged by "id": "container" carries the show, "container_list" the
// episodes. Other modules are ignored.
type containerResponse struct {
	Data []json.RawMessage `json:"data"`
}

type containerModule struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

func decodeProgramme(body []byte) (*Programme, error) {
	var resp containerResponse
	if err := jsonUnmarshal(body, &resp); err != nil {
		return nil, err
	}

	var (
		p        Programme
		haveShow bool
		haveList bool
	)
	for _, raw := range resp.Data {
		var m containerModule
		if err := jsonUnmarshal(raw, &m); err != nil {
			return nil, err
		}
		switch m.ID {
		case "container":
			if haveShow {
				continue
			}
			if err := json.Unmarshal(m.Data, &p.Show); err != nil {
				return nil, fmt.Errorf("%w: container: %v", ErrFormat, err)
			}
			haveShow = true
		case "container_list":
			if haveList {
				continue
			}
			if err := json.Unmarshal(m.Data, &p.Episodes); err != nil {
				return nil, fmt.Errorf("%w: container list: %v", ErrFormat, err)
			}
			haveList = true
		}
	}
	if !haveShow {
		return nil, fmt.Errorf("%w: no container module", ErrFormat)
	}
	if !haveList {
		return nil, fmt.Errorf("%w: no container_list module", ErrFormat)
	}
	return &p, nil
}

// Connection is one way to fetch a media rendition.
type Connection struct {
	Protocol       string `json:"protocol"`
	Href           string `json:"href"`
	TransferFormat string `json:"transferFormat"`
}

// Media is one rendition offered by the media selector.
type Media struct {
	Kind       string       `json:"kind"`
	Type       string       `json:"type"`
	Bitrate    string       `json:"bitrate"`
	Encoding   string       `json:"encoding"`
	Connection []Connection `json:"connection"`
}

// MediaList is the media selector response.
type MediaList struct {
	Media []Media `json:"media"`
}

func jsonUnmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return nil
}
