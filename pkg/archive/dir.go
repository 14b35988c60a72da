package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/openzim/ifixit/pkg/config"
	"github.com/openzim/ifixit/pkg/utils"
)

const (
	contentDirName    = "content"
	itemsFileName     = "items.tsv"
	redirectsFileName = "redirects.tsv"
	manifestFileName  = "metadata.yaml"
)

// DirOptions locates and describes a directory archive.
type DirOptions struct {
	RunID     string
	Name      string
	Language  string
	Filename  string // Final directory name inside OutputDir
	TmpDir    string // The build directory is created here
	OutputDir string
	KeepBuild bool
	Archive   config.ArchiveConfig // Title and description already resolved
	Tags      []string
}

// Manifest is the metadata.yaml document of a finished archive.
type Manifest struct {
	RunID           string    `yaml:"run_id"`
	Name            string    `yaml:"name"`
	Title           string    `yaml:"title"`
	Description     string    `yaml:"description"`
	LongDescription string    `yaml:"long_description,omitempty"`
	Language        string    `yaml:"language"`
	Creator         string    `yaml:"creator"`
	Publisher       string    `yaml:"publisher"`
	Tags            []string  `yaml:"tags"`
	Scraper         string    `yaml:"scraper"`
	StartedAt       time.Time `yaml:"started_at"`
	FinishedAt      time.Time `yaml:"finished_at"`
	ItemCount       int       `yaml:"item_count"`
	RedirectCount   int       `yaml:"redirect_count"`
	FrontItems      []string  `yaml:"front_items"`
}

// DirWriter builds the archive as a directory tree: one file per item under
// content/, TSV indexes of items and redirects, and a YAML manifest. The
// tree is assembled in a build directory and moved into the output
// directory by Finish.
type DirWriter struct {
	opts      DirOptions
	log       *logrus.Entry
	buildDir  string
	finalPath string

	itemsFile     *os.File
	redirectsFile *os.File

	started    bool
	finished   bool
	canFinish  bool
	entries    map[string]struct{}
	files      map[string]string // sanitized disk path -> item path
	items      int
	redirects  int
	frontItems []string
	startTime  time.Time
}

// NewDirWriter prepares a writer; nothing touches the disk before Start.
func NewDirWriter(opts DirOptions, log *logrus.Entry) *DirWriter {
	return &DirWriter{
		opts:      opts,
		log:       log.WithField("component", "archive"),
		buildDir:  filepath.Join(opts.TmpDir, fmt.Sprintf("%s_build_%s", opts.Name, opts.RunID)),
		finalPath: filepath.Join(opts.OutputDir, opts.Filename),
		canFinish: true,
		entries:   make(map[string]struct{}),
		files:     make(map[string]string),
	}
}

func (d *DirWriter) Start() error {
	if d.started {
		return fmt.Errorf("%w: already started", utils.ErrArchiveClosed)
	}
	if err := os.MkdirAll(filepath.Join(d.buildDir, contentDirName), 0755); err != nil {
		return fmt.Errorf("%w: creating build directory %s: %w", utils.ErrFilesystem, d.buildDir, err)
	}
	var err error
	if d.itemsFile, err = openIndex(filepath.Join(d.buildDir, itemsFileName)); err != nil {
		return err
	}
	if d.redirectsFile, err = openIndex(filepath.Join(d.buildDir, redirectsFileName)); err != nil {
		d.itemsFile.Close()
		return err
	}
	d.started = true
	d.startTime = time.Now()
	d.log.Infof("Building archive in %s", d.buildDir)
	return nil
}

func openIndex(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", utils.ErrFilesystem, path, err)
	}
	return f, nil
}

func (d *DirWriter) accepting() error {
	if !d.started || d.finished {
		return utils.ErrArchiveClosed
	}
	return nil
}

func (d *DirWriter) claim(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty entry path", utils.ErrFilesystem)
	}
	if _, dup := d.entries[path]; dup {
		return fmt.Errorf("%w: duplicate entry %q: %w", utils.ErrFilesystem, path, os.ErrExist)
	}
	d.entries[path] = struct{}{}
	return nil
}

// tsvField keeps tabs and newlines out of index columns.
func tsvField(s string) string {
	return strings.NewReplacer("\t", " ", "\n", " ", "\r", " ").Replace(s)
}

func (d *DirWriter) AddItem(item Item) error {
	if err := d.accepting(); err != nil {
		return err
	}
	file := utils.SanitizePath(item.Path)
	if other, taken := d.files[file]; taken && other != item.Path {
		return fmt.Errorf("%w: entries %q and %q share file %q: %w", utils.ErrFilesystem, other, item.Path, file, os.ErrExist)
	}
	if err := d.claim(item.Path); err != nil {
		return err
	}
	d.files[file] = item.Path

	diskPath := filepath.Join(d.buildDir, contentDirName, filepath.FromSlash(file))
	if err := os.MkdirAll(filepath.Dir(diskPath), 0755); err != nil {
		return fmt.Errorf("%w: creating directory for %q: %w", utils.ErrFilesystem, item.Path, err)
	}
	if err := os.WriteFile(diskPath, item.Content, 0644); err != nil {
		return fmt.Errorf("%w: writing %q: %w", utils.ErrFilesystem, item.Path, err)
	}

	line := fmt.Sprintf("%s\t%s\t%s\n", tsvField(item.Path), tsvField(item.Mimetype), tsvField(item.Title))
	if _, err := d.itemsFile.WriteString(line); err != nil {
		return fmt.Errorf("%w: indexing %q: %w", utils.ErrFilesystem, item.Path, err)
	}
	d.items++
	if item.IsFront {
		d.frontItems = append(d.frontItems, item.Path)
	}
	return nil
}

// AddRedirect records path as an alias of target. Targets may carry a
// query string (placeholder pages read the original URL from it).
func (d *DirWriter) AddRedirect(path, target string) error {
	if err := d.accepting(); err != nil {
		return err
	}
	if err := d.claim(path); err != nil {
		return err
	}
	line := fmt.Sprintf("%s\t%s\n", tsvField(path), tsvField(target))
	if _, err := d.redirectsFile.WriteString(line); err != nil {
		return fmt.Errorf("%w: indexing redirect %q: %w", utils.ErrFilesystem, path, err)
	}
	d.redirects++
	return nil
}

func (d *DirWriter) SetCanFinish(ok bool) { d.canFinish = ok }

func (d *DirWriter) CanFinish() bool { return d.canFinish }

// Finish writes the manifest and moves the build directory to its final
// location. It refuses to run once SetCanFinish(false) was called.
func (d *DirWriter) Finish() error {
	if err := d.accepting(); err != nil {
		return err
	}
	if !d.canFinish {
		return fmt.Errorf("%w: archive marked as not finishable", utils.ErrArchiveClosed)
	}
	if err := d.closeIndexes(); err != nil {
		return err
	}
	if err := d.writeManifest(); err != nil {
		return err
	}

	if err := os.MkdirAll(d.opts.OutputDir, 0755); err != nil {
		return fmt.Errorf("%w: creating output directory: %w", utils.ErrFilesystem, err)
	}
	if _, err := os.Stat(d.finalPath); err == nil {
		d.log.Warnf("Replacing existing archive at %s", d.finalPath)
		if err := os.RemoveAll(d.finalPath); err != nil {
			return fmt.Errorf("%w: removing previous archive: %w", utils.ErrFilesystem, err)
		}
	}
	if err := os.Rename(d.buildDir, d.finalPath); err != nil {
		return fmt.Errorf("%w: moving archive to %s: %w", utils.ErrFilesystem, d.finalPath, err)
	}
	d.finished = true
	d.log.WithFields(logrus.Fields{"items": d.items, "redirects": d.redirects}).Infof("Archive written to %s", d.finalPath)
	return nil
}

func (d *DirWriter) closeIndexes() error {
	for _, f := range []*os.File{d.itemsFile, d.redirectsFile} {
		if f == nil {
			continue
		}
		if err := f.Sync(); err != nil {
			d.log.Errorf("Error syncing %s: %v", f.Name(), err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("%w: closing %s: %w", utils.ErrFilesystem, f.Name(), err)
		}
	}
	d.itemsFile, d.redirectsFile = nil, nil
	return nil
}

func (d *DirWriter) writeManifest() error {
	manifest := Manifest{
		RunID:           d.opts.RunID,
		Name:            d.opts.Name,
		Title:           d.opts.Archive.Title,
		Description:     d.opts.Archive.Description,
		LongDescription: d.opts.Archive.LongDescription,
		Language:        d.opts.Language,
		Creator:         d.opts.Archive.Author,
		Publisher:       d.opts.Archive.Publisher,
		Tags:            d.opts.Tags,
		Scraper:         "ifixit-scraper " + config.Version,
		StartedAt:       d.startTime,
		FinishedAt:      time.Now(),
		ItemCount:       d.items,
		RedirectCount:   d.redirects,
		FrontItems:      d.frontItems,
	}
	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal archive manifest: %w", err)
	}
	path := filepath.Join(d.buildDir, manifestFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: writing manifest: %w", utils.ErrFilesystem, err)
	}
	return nil
}

// Cleanup removes the build directory unless it was asked to be kept. It is
// a no-op after a successful Finish.
func (d *DirWriter) Cleanup() error {
	d.closeIndexes()
	if d.opts.KeepBuild {
		d.log.Infof("Keeping build directory %s", d.buildDir)
		return nil
	}
	if _, err := os.Stat(d.buildDir); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(d.buildDir); err != nil {
		return fmt.Errorf("%w: removing build directory: %w", utils.ErrFilesystem, err)
	}
	d.log.Debugf("Removed build directory %s", d.buildDir)
	return nil
}

// ReadManifest loads the manifest of a finished archive directory.
func ReadManifest(archiveDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(archiveDir, manifestFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: reading manifest: %w", utils.ErrFilesystem, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest YAML: %w", utils.ErrParsing, err)
	}
	return &m, nil
}
