package feed

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/zsiec/sounds-relay/internal/sounds"
)

func testProgramme() *sounds.Programme {
	return &sounds.Programme{
		Show: sounds.Show{
			ID:       "p02pc9pj",
			Titles:   sounds.Titles{Primary: "In Our Time"},
			Synopses: sounds.Synopses{Medium: "Ideas that shaped the world.", Long: "Melvyn Bragg and guests."},
			Network:  sounds.Network{ShortTitle: "Radio 4"},
			ImageURL: "https://ichef.example/images/ic/{recipe}/p01.jpg",
		},
		Episodes: []sounds.Episode{
			{
				ID:       "m0001aaa",
				Titles:   sounds.Titles{Primary: "In Our Time", Secondary: "The Electron"},
				Synopses: sounds.Synopses{Short: "Electrons."},
				Duration: sounds.Duration{Value: 3725},
				Release:  sounds.Release{Date: "2024-03-07T09:00:00Z"},
				ImageURL: "https://ichef.example/{size}/e.jpg",
			},
			{
				ID:       "m0002bbb",
				Titles:   sounds.Titles{Primary: "In Our Time", Secondary: "Plato"},
				Synopses: sounds.Synopses{Short: "Plato.", Long: "Plato and the Republic."},
				Duration: sounds.Duration{Value: 59},
				Release:  sounds.Release{Date: "2024-03-14T10:30:00+01:00"},
				Download: sounds.Download{QualityVariants: sounds.QualityVariants{
					Low:    &sounds.QualityVariant{FileURL: "https://dl.example/low.mp3", FileSize: 100},
					Medium: &sounds.QualityVariant{FileURL: "https://dl.example/med.m4a", FileSize: 200},
				}},
			},
			{
				ID:       "m0003ccc",
				Titles:   sounds.Titles{Secondary: "No size"},
				Duration: sounds.Duration{Value: 10},
				Release:  sounds.Release{Date: "not a date"},
				Download: sounds.Download{QualityVariants: sounds.QualityVariants{
					High: &sounds.QualityVariant{FileURL: "https://dl.example/high.ogg"},
				}},
			},
		},
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()

	b := &Builder{BaseURL: "https://relay.example/", Log: slog.New(slog.DiscardHandler)}
	doc := b.Build("p02pc9pj", testProgramme())
	ch := doc.Channel

	if ch.Title != "In Our Time" || ch.Link != "https://www.bbc.co.uk/sounds/series/p02pc9pj" {
		t.Errorf("channel title/link = %q / %q", ch.Title, ch.Link)
	}
	if ch.Author != "Radio 4" || ch.Block != "Yes" {
		t.Errorf("author/block = %q / %q", ch.Author, ch.Block)
	}
	if ch.Subtitle != "Ideas that shaped the world." {
		t.Errorf("subtitle = %q, want medium synopsis", ch.Subtitle)
	}
	wantImage := "https://ichef.example/images/ic/400x400/p01.jpg"
	if ch.Image == nil || ch.Image.URL != wantImage || ch.Image.Width != 400 || ch.ITunesImage == nil || ch.ITunesImage.Href != wantImage {
		t.Errorf("image = %+v / %+v", ch.Image, ch.ITunesImage)
	}
	if ch.PubDate != "Thu, 14 Mar 2024 10:30:00 +0100" {
		t.Errorf("channel pubDate = %q, want the most recent episode", ch.PubDate)
	}
	if len(ch.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(ch.Items))
	}

	proxied := ch.Items[0]
	if proxied.Enclosure != (Enclosure{URL: "https://relay.example/episode/m0001aaa", Length: 50000 * 3725, Type: "audio/aac"}) {
		t.Errorf("proxied enclosure = %+v", proxied.Enclosure)
	}
	if proxied.Duration != "1:02:05" {
		t.Errorf("duration = %q, want 1:02:05", proxied.Duration)
	}
	if proxied.Title != "The Electron" || proxied.Summary != "Electrons." || proxied.GUID.Value != "m0001aaa" {
		t.Errorf("item = %+v", proxied)
	}
	if proxied.ITunesImage != nil {
		t.Errorf("image with unknown variable = %+v, want none", proxied.ITunesImage)
	}
	if proxied.PubDate != "Thu, 07 Mar 2024 09:00:00 +0000" {
		t.Errorf("item pubDate = %q", proxied.PubDate)
	}

	public := ch.Items[1]
	if public.Enclosure != (Enclosure{URL: "https://dl.example/med.m4a", Length: 200, Type: "audio/mp4"}) {
		t.Errorf("public enclosure = %+v", public.Enclosure)
	}
	if public.Description != "Plato and the Republic." || public.Duration != "0:00:59" {
		t.Errorf("public item = %+v", public)
	}

	unsized := ch.Items[2]
	if unsized.Enclosure != (Enclosure{URL: "https://dl.example/high.ogg", Length: 500000, Type: "audio/mpeg"}) {
		t.Errorf("unsized enclosure = %+v", unsized.Enclosure)
	}
	if unsized.PubDate != "" {
		t.Errorf("unparseable date rendered as %q", unsized.PubDate)
	}
}

func TestMarshal(t *testing.T) {
	t.Parallel()

	b := &Builder{BaseURL: "http://localhost:8080", Log: slog.New(slog.DiscardHandler)}
	out, err := Marshal(b.Build("p02pc9pj", testProgramme()))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(out)

	for _, want := range []string{
		`<?xml version="1.0" encoding="UTF-8"?>`,
		`<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">`,
		`<itunes:block>Yes</itunes:block>`,
		`<itunes:author>Radio 4</itunes:author>`,
		`<enclosure url="http://localhost:8080/episode/m0001aaa" length="186250000" type="audio/aac"></enclosure>`,
		`<guid isPermaLink="false">m0002bbb</guid>`,
		`<itunes:duration>1:02:05</itunes:duration>`,
		`<itunes:image href="https://ichef.example/images/ic/400x400/p01.jpg"></itunes:image>`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("feed missing %s", want)
		}
	}
}

func TestTemplateURL(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.DiscardHandler)
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"https://x/{recipe}/a.jpg", "https://x/400x400/a.jpg"},
		{"https://x/{recipe}/{recipe}.jpg", "https://x/400x400/400x400.jpg"},
		{"https://x/plain.jpg", "https://x/plain.jpg"},
		{"https://x/{width}/a.jpg", ""},
	}
	for _, tt := range tests {
		if got := templateURL(log, tt.in); got != tt.want {
			t.Errorf("templateURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
