package classloader

import (
	"context"
	"errors"
	"fmt"

	"github.com/GriffinCanCode/netlaunch/internal/descriptor"
	"github.com/GriffinCanCode/netlaunch/internal/jar"
	"github.com/GriffinCanCode/netlaunch/internal/script"
	"go.uber.org/zap"
)

// LoadClass returns the named class, searching in order: classes already
// defined anywhere in the tree, system classes, activated jars and then the
// remaining jars one at a time, manifest Class-Path jars, and finally lazy
// parts whose package entry matches the name.
func (l *Loader) LoadClass(ctx context.Context, name string) (*script.Class, error) {
	if c, ok := l.findLoaded(name); ok {
		return c, nil
	}
	if c, ok := l.systemClass(name); ok {
		return c, nil
	}

	steps := []func(context.Context, string) (*script.Class, error){
		l.loadFromJars,
		l.loadFromClassPath,
		l.loadFromParts,
	}
	for _, step := range steps {
		c, err := step(ctx, name)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrClassNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
}

func (l *Loader) findLoaded(name string) (*script.Class, bool) {
	var found *script.Class
	l.find(func(n *Loader) bool {
		n.mu.Lock()
		defer n.mu.Unlock()
		found = n.classes[name]
		return found != nil
	})
	return found, found != nil
}

func (l *Loader) systemClass(name string) (*script.Class, bool) {
	if l.app.opts.System == nil {
		return nil, false
	}
	return l.app.opts.System.SystemClass(name)
}

// loadFromJars defines the class from an activated jar, activating further
// jars until one holds it.
func (l *Loader) loadFromJars(ctx context.Context, name string) (*script.Class, error) {
	if c, err := l.findClass(name); err == nil || !errors.Is(err, ErrClassNotFound) {
		return c, err
	}
	for {
		owner, err := l.addNextResource(ctx)
		if err != nil {
			return nil, err
		}
		if owner == nil {
			return nil, ErrClassNotFound
		}
		if c, err := owner.findClass(name); err == nil || !errors.Is(err, ErrClassNotFound) {
			return c, err
		}
	}
}

// findClass defines name from the first activated jar of the tree holding
// its entry.
func (l *Loader) findClass(name string) (*script.Class, error) {
	var (
		class *script.Class
		err   error
	)
	l.find(func(n *Loader) bool {
		class, err = n.define(name)
		return class != nil || err != nil
	})
	if class == nil && err == nil {
		err = ErrClassNotFound
	}
	return class, err
}

// define compiles name from this loader's own jars. A class is defined at
// most once per loader.
func (l *Loader) define(name string) (*script.Class, error) {
	entry := jar.ClassEntry(name)

	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.classes[name]; ok {
		return c, nil
	}
	for _, a := range l.jars {
		if !a.archive.Has(entry) {
			continue
		}
		body, err := a.archive.ReadEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("read %s from %s: %w", entry, a.location(), err)
		}
		c, err := script.Compile(name, a.location(), entry, body)
		if err != nil {
			return nil, err
		}
		l.classes[name] = c
		l.app.logger.Debug("class defined", zap.String("class", name), zap.String("jar", a.location()))
		return c, nil
	}
	return nil, nil
}

// loadFromClassPath activates the jars named by manifest Class-Path
// attributes and retries.
func (l *Loader) loadFromClassPath(ctx context.Context, name string) (*script.Class, error) {
	added := false
	var walkErr error
	l.walk(func(n *Loader) {
		n.mu.Lock()
		pending := n.classPath
		n.classPath = nil
		n.mu.Unlock()

		for _, u := range pending {
			if _, err := n.activate(ctx, descriptor.JAR{URL: u, Lazy: true}); err != nil {
				n.app.logger.Warn("failed to add class path jar", zap.String("jar", u.String()), zap.Error(err))
				if walkErr == nil && ctx.Err() != nil {
					walkErr = ctx.Err()
				}
				continue
			}
			added = true
		}
	})
	if walkErr != nil {
		return nil, walkErr
	}
	if !added {
		return nil, ErrClassNotFound
	}
	return l.findClass(name)
}

// loadFromParts downloads the part a package entry maps name to.
func (l *Loader) loadFromParts(ctx context.Context, name string) (*script.Class, error) {
	var parts []string
	l.walk(func(n *Loader) {
		if part, ok := n.desc.Resources.PartFor(name); ok {
			parts = append(parts, part)
		}
	})
	for _, part := range parts {
		if err := l.DownloadPart(ctx, part); err != nil {
			return nil, err
		}
		if c, err := l.findClass(name); err == nil || !errors.Is(err, ErrClassNotFound) {
			return c, err
		}
	}
	return nil, ErrClassNotFound
}

// GetResource returns the raw bytes of a jar entry, searching jars in the
// same order as LoadClass.
func (l *Loader) GetResource(ctx context.Context, name string) ([]byte, error) {
	if data, ok := l.findResource(name); ok {
		return data, nil
	}
	for {
		owner, err := l.addNextResource(ctx)
		if err != nil {
			return nil, err
		}
		if owner == nil {
			break
		}
		if data, ok := owner.findResource(name); ok {
			return data, nil
		}
	}
	if _, err := l.loadFromClassPath(ctx, name); err != nil && !errors.Is(err, ErrClassNotFound) {
		return nil, err
	}
	if data, ok := l.findResource(name); ok {
		return data, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, name)
}

func (l *Loader) findResource(name string) ([]byte, bool) {
	var data []byte
	l.find(func(n *Loader) bool {
		n.mu.Lock()
		jars := n.jars
		n.mu.Unlock()
		for _, a := range jars {
			if !a.archive.Has(name) {
				continue
			}
			b, err := a.archive.ReadEntry(name)
			if err != nil {
				continue
			}
			data = b
			return true
		}
		return false
	})
	return data, data != nil
}
