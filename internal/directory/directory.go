// Package directory is the fixed doctor directory the assistant answers from.
// The set is defined at startup and never mutated; callers get copies.
package directory

import (
	"fmt"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Availability maps a day-range label ("Monday to Friday") to period labels
// ("Morning") and their time-range strings ("10:00 AM - 2:00 PM").
type Availability map[string]map[string]string

// Doctor is a directory entry. Name is the unique key.
type Doctor struct {
	Name         string       `json:"-"`
	Specialty    string       `json:"specialty"`
	Availability Availability `json:"availability"`
}

// Window is one parsed availability window.
type Window struct {
	DayRange string
	Period   string
	Range    string
	Days     map[time.Weekday]bool
	Start    int // minutes after midnight, inclusive
	End      int // minutes after midnight, exclusive
}

// Contains reports whether the weekday and minute fall inside the window.
func (w Window) Contains(day time.Weekday, minute int) bool {
	return w.Days[day] && minute >= w.Start && minute < w.End
}

// Directory is an immutable doctor lookup.
type Directory struct {
	doctors map[string]Doctor
	windows map[string][]Window
	names   []string
}

// New builds a directory, parsing every availability window up front.
func New(doctors ...Doctor) (*Directory, error) {
	if len(doctors) == 0 {
		return nil, fmt.Errorf("directory: at least one doctor is required")
	}
	d := &Directory{
		doctors: make(map[string]Doctor, len(doctors)),
		windows: make(map[string][]Window, len(doctors)),
	}
	for _, doc := range doctors {
		name := strings.TrimSpace(doc.Name)
		if name == "" {
			return nil, fmt.Errorf("directory: doctor name is required")
		}
		if _, dup := d.doctors[name]; dup {
			return nil, fmt.Errorf("directory: duplicate doctor %q", name)
		}
		if strings.TrimSpace(doc.Specialty) == "" {
			return nil, fmt.Errorf("directory: %s has no specialty", name)
		}
		windows, err := parseWindows(doc.Availability)
		if err != nil {
			return nil, fmt.Errorf("directory: %s: %w", name, err)
		}
		if len(windows) == 0 {
			return nil, fmt.Errorf("directory: %s has no availability", name)
		}
		doc.Name = name
		doc.Availability = copyAvailability(doc.Availability)
		d.doctors[name] = doc
		d.windows[name] = windows
		d.names = append(d.names, name)
	}
	sort.Strings(d.names)
	return d, nil
}

// Default returns the clinic's doctor roster.
func Default() *Directory {
	d, err := New(
		Doctor{
			Name:      "Dr. Khan",
			Specialty: "Dermatologist",
			Availability: Availability{
				"Monday to Friday": {
					"Morning": "10:00 AM - 2:00 PM",
					"Evening": "7:00 PM - 10:00 PM",
				},
			},
		},
		Doctor{
			Name:      "Dr. Ahmed",
			Specialty: "Neurologist",
			Availability: Availability{
				"Monday to Friday": {
					"Evening": "7:00 PM - 11:00 PM",
				},
				"Saturday": {
					"Morning": "10:00 AM - 2:00 PM",
					"Evening": "7:00 PM - 11:00 PM",
				},
			},
		},
	)
	if err != nil {
		panic(err)
	}
	return d
}

// ListDoctors returns a copy of every doctor keyed by name.
func (d *Directory) ListDoctors() map[string]Doctor {
	out := make(map[string]Doctor, len(d.doctors))
	for name, doc := range d.doctors {
		doc.Availability = copyAvailability(doc.Availability)
		out[name] = doc
	}
	return out
}

// Names returns doctor names in sorted order.
func (d *Directory) Names() []string {
	return append([]string(nil), d.names...)
}

// Lookup finds a doctor by name, ignoring case, punctuation and a missing "Dr." prefix.
func (d *Directory) Lookup(name string) (Doctor, bool) {
	want := canonicalName(name)
	if want == "" {
		return Doctor{}, false
	}
	for _, n := range d.names {
		if canonicalName(n) == want {
			doc := d.doctors[n]
			doc.Availability = copyAvailability(doc.Availability)
			return doc, true
		}
	}
	return Doctor{}, false
}

// Windows returns the parsed availability windows for a doctor.
func (d *Directory) Windows(name string) []Window {
	doc, ok := d.Lookup(name)
	if !ok {
		return nil
	}
	return append([]Window(nil), d.windows[doc.Name]...)
}

// AvailableOn lists the doctors with at least one window on the weekday.
func (d *Directory) AvailableOn(day time.Weekday) []string {
	var out []string
	for _, name := range d.names {
		for _, w := range d.windows[name] {
			if w.Days[day] {
				out = append(out, name)
				break
			}
		}
	}
	return out
}

// Snapshot renders the directory as the JSON document handed to the model.
func (d *Directory) Snapshot() (string, error) {
	data, err := json.Marshal(d.ListDoctors())
	if err != nil {
		return "", fmt.Errorf("directory: encode snapshot: %w", err)
	}
	return string(data), nil
}

func canonicalName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.NewReplacer(".", " ", ",", " ").Replace(s)
	fields := strings.Fields(s)
	if len(fields) > 0 && (fields[0] == "dr" || fields[0] == "doctor") {
		fields = fields[1:]
	}
	return strings.Join(fields, " ")
}

func copyAvailability(in Availability) Availability {
	out := make(Availability, len(in))
	for dayRange, periods := range in {
		p := make(map[string]string, len(periods))
		for k, v := range periods {
			p[k] = v
		}
		out[dayRange] = p
	}
	return out
}
