// Package feed renders a programme as a podcast RSS document with the
// iTunes extension.
package feed

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/zsiec/sounds-relay/internal/sounds"
)

const (
	// ContentType of a rendered feed.
	ContentType = "application/rss+xml"

	itunesNS       = "http://www.itunes.com/dtds/podcast-1.0.dtd"
	seriesURL      = "https://www.bbc.co.uk/sounds/series/"
	imageSize      = 400
	bytesPerSecond = 50000
)

// urlVars are substituted into image URL templates.
var urlVars = map[string]string{
	"recipe": "400x400",
}

var urlVarPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// RSS is the document root.
type RSS struct {
	XMLName  xml.Name `xml:"rss"`
	Version  string   `xml:"version,attr"`
	ITunesNS string   `xml:"xmlns:itunes,attr"`
	Channel  Channel  `xml:"channel"`
}

// Channel describes the programme.
type Channel struct {
	Title       string       `xml:"title"`
	Link        string       `xml:"link"`
	Description string       `xml:"description"`
	PubDate     string       `xml:"pubDate,omitempty"`
	Image       *Image       `xml:"image,omitempty"`
	Author      string       `xml:"itunes:author,omitempty"`
	Block       string       `xml:"itunes:block,omitempty"`
	ITunesImage *ITunesImage `xml:"itunes:image,omitempty"`
	Subtitle    string       `xml:"itunes:subtitle,omitempty"`
	Items       []Item       `xml:"item"`
}

// Image is the channel artwork.
type Image struct {
	URL    string `xml:"url"`
	Title  string `xml:"title"`
	Link   string `xml:"link"`
	Width  int    `xml:"width"`
	Height int    `xml:"height"`
}

// ITunesImage is an itunes:image element.
type ITunesImage struct {
	Href string `xml:"href,attr"`
}

// Item is one episode.
type Item struct {
	Title       string       `xml:"title,omitempty"`
	Description string       `xml:"description,omitempty"`
	Enclosure   Enclosure    `xml:"enclosure"`
	GUID        GUID         `xml:"guid"`
	PubDate     string       `xml:"pubDate,omitempty"`
	Duration    string       `xml:"itunes:duration"`
	Author      string       `xml:"itunes:author,omitempty"`
	Subtitle    string       `xml:"itunes:subtitle,omitempty"`
	Summary     string       `xml:"itunes:summary,omitempty"`
	ITunesImage *ITunesImage `xml:"itunes:image,omitempty"`
}

// Enclosure points at the episode audio.
type Enclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

// GUID identifies an episode.
type GUID struct {
	IsPermaLink bool   `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

// Builder turns programmes into feeds. Episodes without a public download
// are enclosed as {BaseURL}/episode/{id}.
type Builder struct {
	BaseURL string
	Log     *slog.Logger
}

// Build converts a programme to a feed document.
func (b *Builder) Build(pid string, p *sounds.Programme) *RSS {
	log := b.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "feed", "pid", pid)
	base := strings.TrimRight(b.BaseURL, "/")

	show := p.Show
	image := templateURL(log, show.ImageURL)
	link := seriesURL + pid

	ch := Channel{
		Title:       show.Titles.Primary,
		Link:        link,
		Description: show.Synopses.Longest(),
		Author:      show.Network.ShortTitle,
		Block:       "Yes",
		Subtitle:    show.Synopses.Shortest(),
	}
	if image != "" {
		ch.Image = &Image{URL: image, Title: show.Titles.Primary, Link: link, Width: imageSize, Height: imageSize}
		ch.ITunesImage = &ITunesImage{Href: image}
	}

	var latest time.Time
	for _, ep := range p.Episodes {
		item := b.item(log, base, show, ep)
		if t, err := time.Parse(time.RFC3339, ep.Release.Date); err == nil {
			item.PubDate = t.Format(time.RFC1123Z)
			if t.After(latest) {
				latest = t
			}
		} else {
			log.Debug("unparseable release date", "episode", ep.ID, "date", ep.Release.Date)
		}
		ch.Items = append(ch.Items, item)
	}
	if !latest.IsZero() {
		ch.PubDate = latest.Format(time.RFC1123Z)
	}

	return &RSS{Version: "2.0", ITunesNS: itunesNS, Channel: ch}
}

func (b *Builder) item(log *slog.Logger, base string, show sounds.Show, ep sounds.Episode) Item {
	summary := ep.Synopses.Longest()
	it := Item{
		Title:       ep.Titles.Secondary,
		Description: summary,
		GUID:        GUID{Value: ep.ID},
		Duration:    formatDuration(ep.Duration.Value),
		Author:      show.Network.ShortTitle,
		Subtitle:    ep.Titles.Secondary,
		Summary:     summary,
	}
	if img := templateURL(log, ep.ImageURL); img != "" {
		it.ITunesImage = &ITunesImage{Href: img}
	}

	v := ep.Download.QualityVariants.Best()
	if v != nil && v.FileURL != "" {
		it.Enclosure = Enclosure{URL: v.FileURL, Length: v.FileSize, Type: mimeType(v.FileURL)}
		if v.FileSize == 0 {
			it.Enclosure.Length = bytesPerSecond * ep.Duration.Value
		}
	} else {
		it.Enclosure = Enclosure{
			URL:    base + "/episode/" + ep.ID,
			Length: bytesPerSecond * ep.Duration.Value,
			Type:   "audio/aac",
		}
	}
	return it
}

// Marshal renders the document with an XML declaration.
func Marshal(doc *RSS) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("feed: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("feed: %w", err)
	}
	return buf.Bytes(), nil
}

// templateURL fills {variables} in an image URL. It returns "" when the URL
// is empty or uses a variable that has no value.
func templateURL(log *slog.Logger, raw string) string {
	if raw == "" {
		return ""
	}
	missing := false
	out := urlVarPattern.ReplaceAllStringFunc(raw, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := urlVars[name]
		if !ok {
			missing = true
			log.Warn("missing URL variable", "variable", name)
		}
		return v
	})
	if missing {
		return ""
	}
	return out
}

func mimeType(fileURL string) string {
	switch strings.TrimPrefix(path.Ext(fileURL), ".") {
	case "m4a", "mp4":
		return "audio/mp4"
	default:
		return "audio/mpeg"
	}
}

// formatDuration renders seconds as H:MM:SS.
func formatDuration(secs int64) string {
	return fmt.Sprintf("%d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
}
