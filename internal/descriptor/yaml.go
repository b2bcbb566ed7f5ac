package descriptor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/GriffinCanCode/netlaunch/internal/shared/errs"
)

// document is the on-disk YAML layout of a launch descriptor.
type document struct {
	Spec        string         `yaml:"spec"`
	Codebase    string         `yaml:"codebase"`
	Href        string         `yaml:"href"`
	Information informationDoc `yaml:"information"`
	Security    string         `yaml:"security"`
	Resources   resourcesDoc   `yaml:"resources"`
	Application *entryDoc      `yaml:"application"`
	Applet      *entryDoc      `yaml:"applet"`
	Installer   *entryDoc      `yaml:"installer"`
	Component   *struct{}      `yaml:"component"`
	Runtime     runtimeDoc     `yaml:"runtime"`
}

type informationDoc struct {
	Title       string `yaml:"title"`
	Vendor      string `yaml:"vendor"`
	Homepage    string `yaml:"homepage"`
	Description string `yaml:"description"`
	Offline     bool   `yaml:"offline"`
	Shortcut    bool   `yaml:"shortcut"`
}

type jarDoc struct {
	Href     string `yaml:"href"`
	Version  string `yaml:"version"`
	Main     bool   `yaml:"main"`
	Download string `yaml:"download"`
	Part     string `yaml:"part"`
}

type resourcesDoc struct {
	JARs       []jarDoc `yaml:"jars"`
	Natives    []jarDoc `yaml:"nativelibs"`
	Extensions []struct {
		Name    string `yaml:"name"`
		Href    string `yaml:"href"`
		Version string `yaml:"version"`
	} `yaml:"extensions"`
	Properties []struct {
		Name  string `yaml:"name"`
		Value string `yaml:"value"`
	} `yaml:"properties"`
	Packages []struct {
		Name      string `yaml:"name"`
		Part      string `yaml:"part"`
		Recursive bool   `yaml:"recursive"`
	} `yaml:"packages"`
}

type entryDoc struct {
	MainClass    string            `yaml:"main-class"`
	Arguments    []string          `yaml:"arguments"`
	DocumentBase string            `yaml:"documentbase"`
	Parameters   map[string]string `yaml:"parameters"`
}

type runtimeDoc struct {
	Args        []string `yaml:"args"`
	InitialHeap string   `yaml:"initial-heap"`
	MaxHeap     string   `yaml:"max-heap"`
}

// YAMLParser decodes the YAML launch descriptor format.
type YAMLParser struct{}

// Parse implements Parser.
func (YAMLParser) Parse(data []byte, source *url.URL) (*Descriptor, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, parseError(source, err)
	}
	d, err := doc.build(source)
	if err != nil {
		return nil, parseError(source, err)
	}
	return d, nil
}

// ParseFile reads and parses a local descriptor file.
func ParseFile(p Parser, filename string) (*Descriptor, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, &errs.ParseError{Source: filename, Err: err}
	}
	abs, err := filepath.Abs(filename)
	if err != nil {
		return nil, &errs.ParseError{Source: filename, Err: err}
	}
	return p.Parse(data, &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)})
}

func parseError(source *url.URL, err error) error {
	name := "<memory>"
	if source != nil {
		name = source.String()
	}
	return &errs.ParseError{Source: name, Err: err}
}

func (doc *document) build(source *url.URL) (*Descriptor, error) {
	d := &Descriptor{
		Spec:   doc.Spec,
		Source: source,
		Information: Information{
			Title:       doc.Information.Title,
			Vendor:      doc.Information.Vendor,
			Homepage:    doc.Information.Homepage,
			Description: doc.Information.Description,
			Offline:     doc.Information.Offline,
			Shortcut:    doc.Information.Shortcut,
		},
		Runtime: JVMRuntime{
			Args:        doc.Runtime.Args,
			InitialHeap: doc.Runtime.InitialHeap,
			MaxHeap:     doc.Runtime.MaxHeap,
		},
	}

	base := source
	if doc.Codebase != "" {
		cb, err := resolveAgainst(source, doc.Codebase)
		if err != nil {
			return nil, fmt.Errorf("codebase: %w", err)
		}
		if !strings.HasSuffix(cb.Path, "/") {
			cb.Path += "/"
		}
		d.Codebase = cb
		base = cb
	}
	if doc.Href != "" {
		href, err := resolveAgainst(base, doc.Href)
		if err != nil {
			return nil, fmt.Errorf("href: %w", err)
		}
		d.Source = href
	}

	switch SecurityRequest(doc.Security) {
	case RequestNone, RequestSandbox, RequestAll, RequestJ2EE:
		d.Security = SecurityRequest(doc.Security)
	default:
		return nil, fmt.Errorf("unknown security request %q", doc.Security)
	}

	if err := doc.buildResources(d, base); err != nil {
		return nil, err
	}
	return d, doc.buildEntry(d, base)
}

func (doc *document) buildResources(d *Descriptor, base *url.URL) error {
	convert := func(in []jarDoc, native bool) ([]JAR, error) {
		out := make([]JAR, 0, len(in))
		for _, j := range in {
			u, err := resolveAgainst(base, j.Href)
			if err != nil {
				return nil, fmt.Errorf("jar %q: %w", j.Href, err)
			}
			switch j.Download {
			case "", "eager", "lazy":
			default:
				return nil, fmt.Errorf("jar %q: unknown download mode %q", j.Href, j.Download)
			}
			out = append(out, JAR{
				URL:     u,
				Version: j.Version,
				Main:    j.Main,
				Native:  native,
				Lazy:    j.Download == "lazy",
				Part:    j.Part,
			})
		}
		return out, nil
	}

	var err error
	if d.Resources.JARs, err = convert(doc.Resources.JARs, false); err != nil {
		return err
	}
	if d.Resources.Natives, err = convert(doc.Resources.Natives, true); err != nil {
		return err
	}

	mains := 0
	for _, j := range d.Resources.JARs {
		if j.Main {
			mains++
		}
	}
	if mains > 1 {
		return errors.New("more than one jar is marked main")
	}

	for _, e := range doc.Resources.Extensions {
		u, err := resolveAgainst(base, e.Href)
		if err != nil {
			return fmt.Errorf("extension %q: %w", e.Href, err)
		}
		d.Resources.Extensions = append(d.Resources.Extensions, Extension{Name: e.Name, URL: u, Version: e.Version})
	}
	for _, p := range doc.Resources.Properties {
		if p.Name == "" {
			return errors.New("property without a name")
		}
		d.Resources.Properties = append(d.Resources.Properties, Property{Key: p.Name, Value: p.Value})
	}
	for _, p := range doc.Resources.Packages {
		d.Resources.Packages = append(d.Resources.Packages, Package{Name: p.Name, Part: p.Part, Recursive: p.Recursive})
	}
	return nil
}

func (doc *document) buildEntry(d *Descriptor, base *url.URL) error {
	entries := 0
	for _, present := range []bool{doc.Application != nil, doc.Applet != nil, doc.Installer != nil, doc.Component != nil} {
		if present {
			entries++
		}
	}
	if entries > 1 {
		return errors.New("descriptor declares more than one entry point")
	}

	var entry *entryDoc
	switch {
	case doc.Applet != nil:
		d.Kind = KindApplet
		entry = doc.Applet
	case doc.Installer != nil:
		d.Kind = KindInstaller
		entry = doc.Installer
	case doc.Component != nil:
		d.Kind = KindComponent
		return nil
	default:
		d.Kind = KindApplication
		entry = doc.Application
	}
	if entry == nil {
		return nil
	}

	d.EntryPoint = EntryPoint{
		MainClass:  entry.MainClass,
		Arguments:  entry.Arguments,
		Parameters: entry.Parameters,
	}
	if entry.DocumentBase != "" {
		u, err := resolveAgainst(base, entry.DocumentBase)
		if err != nil {
			return fmt.Errorf("documentbase: %w", err)
		}
		d.EntryPoint.DocumentBase = u
	}
	return nil
}

func resolveAgainst(base *url.URL, ref string) (*url.URL, error) {
	if ref == "" {
		return nil, errors.New("empty reference")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	if u.IsAbs() || base == nil {
		return u, nil
	}
	return base.ResolveReference(u), nil
}

// Fetcher is the part of the resource cache a FetchingResolver needs.
type Fetcher interface {
	Fetch(ctx context.Context, u *url.URL, version string) (string, error)
}

// FetchingResolver resolves extensions by fetching and parsing them.
type FetchingResolver struct {
	Fetcher Fetcher
	Parser  Parser
}

// Resolve implements Resolver.
func (r FetchingResolver) Resolve(ctx context.Context, ext Extension) (*Descriptor, error) {
	local, err := r.Fetcher.Fetch(ctx, ext.URL, ext.Version)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(local)
	if err != nil {
		return nil, &errs.FetchError{URL: ext.URL.String(), Err: err}
	}
	return r.Parser.Parse(data, ext.URL)
}
