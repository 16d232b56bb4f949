package analyzer

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Domain identifies a project signal domain. The set is closed and mirrors
// the spawnable agent domains.
type Domain string

const (
	DomainFrontend      Domain = "frontend"
	DomainBackend       Domain = "backend"
	DomainSecurity      Domain = "security"
	DomainPerformance   Domain = "performance"
	DomainArchitecture  Domain = "architecture"
	DomainAnalysis      Domain = "analysis"
	DomainDocumentation Domain = "documentation"
)

// Domains lists all recognized domains in stable order.
var Domains = []Domain{
	DomainFrontend,
	DomainBackend,
	DomainSecurity,
	DomainPerformance,
	DomainArchitecture,
	DomainAnalysis,
	DomainDocumentation,
}

// IsValidDomain checks whether a string names a recognized domain.
func IsValidDomain(s string) bool {
	for _, d := range Domains {
		if string(d) == s {
			return true
		}
	}
	return false
}

// Error is returned when the project root itself cannot be analyzed.
// Partial failures inside the tree degrade to zero contribution instead.
type Error struct {
	Root string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("context analysis of %s failed: %v", e.Root, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Signal group weights. They sum to 1.0.
const (
	weightExtensions = 0.3
	weightDirs       = 0.4
	weightKeywords   = 0.2
	weightImports    = 0.1
)

// ProjectContext is an immutable weighted signal snapshot of a project.
// Re-derivation produces a new value with a higher Version; snapshots are
// safely shared by reference across concurrent agents.
type ProjectContext struct {
	Root        string             `json:"root"`
	Version     int                `json:"version"`
	Scores      map[Domain]float64 `json:"scores"`
	Extensions  map[string]int     `json:"extensions"`
	DirHits     map[string]int     `json:"dir_hits"`
	KeywordHits map[string]int     `json:"keyword_hits"`
	ImportHits  map[string]int     `json:"import_hits"`
	FilesSeen   int                `json:"files_seen"`
	AnalyzedAt  time.Time          `json:"analyzed_at"`
}

// Score returns the score for a domain, zero if absent.
func (p *ProjectContext) Score(d Domain) float64 {
	if p == nil || p.Scores == nil {
		return 0
	}
	return p.Scores[d]
}

// Clone returns a deep copy. Coordinated agents each get their own copy so
// no instance can observe another's mutations.
func (p *ProjectContext) Clone() *ProjectContext {
	if p == nil {
		return nil
	}
	out := *p
	out.Scores = cloneMap(p.Scores)
	out.Extensions = cloneMap(p.Extensions)
	out.DirHits = cloneMap(p.DirHits)
	out.KeywordHits = cloneMap(p.KeywordHits)
	out.ImportHits = cloneMap(p.ImportHits)
	return &out
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// TopDomains returns domains ordered by score descending (ties by name).
func (p *ProjectContext) TopDomains() []Domain {
	out := make([]Domain, len(Domains))
	copy(out, Domains)
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := p.Score(out[i]), p.Score(out[j])
		if si != sj {
			return si > sj
		}
		return out[i] < out[j]
	})
	return out
}

// Delta returns the maximum absolute per-domain score difference between two
// snapshots. The stage controller re-assesses wave mode when this exceeds the
// configured redetect threshold.
func Delta(old, new_ *ProjectContext) float64 {
	var max float64
	for _, d := range Domains {
		diff := new_.Score(d) - old.Score(d)
		if diff < 0 {
			diff = -diff
		}
		if diff > max {
			max = diff
		}
	}
	return max
}

// Analyzer scans a project tree and produces weighted per-domain scores from
// four signal groups: file extensions, directory patterns, content keywords,
// and import/framework detection.
type Analyzer struct {
	MaxDepth       int      // directory depth bound; defaults to 6
	Excludes       []string // directory names skipped entirely
	MaxSampleFiles int      // content/keyword sampling bound; defaults to 400
	MaxSampleBytes int64    // per-file read bound; defaults to 64KiB

	version int // incremented per Analyze call for snapshot versioning
}

// New creates an Analyzer with default bounds.
func New() *Analyzer {
	return &Analyzer{
		MaxDepth:       6,
		Excludes:       defaultExcludes,
		MaxSampleFiles: 400,
		MaxSampleBytes: 64 * 1024,
	}
}

var defaultExcludes = []string{
	"node_modules", "vendor", ".git", "dist", "build", "target",
	".next", "__pycache__", ".venv", "coverage",
}

// Analyze scans the project root and returns a fresh context snapshot.
// The walk is a pure read; an unreadable root returns *Error while an
// unreadable subtree contributes zero and the scan continues.
func (a *Analyzer) Analyze(root string) (*ProjectContext, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &Error{Root: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &Error{Root: root, Err: fmt.Errorf("not a directory")}
	}

	acc := newAccumulator()
	excluded := make(map[string]bool, len(a.Excludes))
	for _, e := range a.Excludes {
		excluded[e] = true
	}

	sampled := 0
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Degrade the unreadable subtree to zero contribution.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && excluded[d.Name()] {
				return filepath.SkipDir
			}
			if depth(rel) > a.maxDepth() {
				return filepath.SkipDir
			}
			acc.addDir(d.Name())
			return nil
		}

		acc.filesSeen++
		ext := strings.ToLower(filepath.Ext(d.Name()))
		acc.addExtension(ext)

		if isManifest(d.Name()) {
			a.sampleImports(path, acc)
			return nil
		}
		if sampled < a.maxSampleFiles() && sampleableExt[ext] {
			sampled++
			a.sampleKeywords(path, acc)
		}
		return nil
	})
	if walkErr != nil {
		return nil, &Error{Root: root, Err: walkErr}
	}
	if acc.filesSeen == 0 {
		return nil, &Error{Root: root, Err: fmt.Errorf("empty project tree")}
	}

	a.version++
	return &ProjectContext{
		Root:        root,
		Version:     a.version,
		Scores:      acc.scores(),
		Extensions:  acc.extCounts,
		DirHits:     acc.dirCounts,
		KeywordHits: acc.keywordCounts,
		ImportHits:  acc.importCounts,
		FilesSeen:   acc.filesSeen,
		AnalyzedAt:  time.Now().UTC(),
	}, nil
}

func (a *Analyzer) maxDepth() int {
	if a.MaxDepth <= 0 {
		return 6
	}
	return a.MaxDepth
}

func (a *Analyzer) maxSampleFiles() int {
	if a.MaxSampleFiles <= 0 {
		return 400
	}
	return a.MaxSampleFiles
}

func (a *Analyzer) maxSampleBytes() int64 {
	if a.MaxSampleBytes <= 0 {
		return 64 * 1024
	}
	return a.MaxSampleBytes
}

// sampleKeywords scans the head of a source file for domain keywords.
func (a *Analyzer) sampleKeywords(path string, acc *accumulator) {
	f, err := os.Open(path)
	if err != nil {
		return // unreadable file contributes nothing
	}
	defer f.Close()

	scanner := bufio.NewScanner(&boundedReader{r: f, n: a.maxSampleBytes()})
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		line := strings.ToLower(scanner.Text())
		for kw := range keywordSignals {
			if strings.Contains(line, kw) {
				acc.addKeyword(kw)
			}
		}
	}
}

// sampleImports scans a dependency manifest for known framework names.
func (a *Analyzer) sampleImports(path string, acc *accumulator) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(&boundedReader{r: f, n: a.maxSampleBytes()})
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		line := strings.ToLower(scanner.Text())
		for fw := range importSignals {
			if strings.Contains(line, fw) {
				acc.addImport(fw)
			}
		}
	}
}

func depth(rel string) int {
	if rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

// boundedReader limits total bytes read from the underlying reader.
type boundedReader struct {
	r io.Reader
	n int64
}

func (b *boundedReader) Read(p []byte) (int, error) {
	if b.n <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > b.n {
		p = p[:b.n]
	}
	n, err := b.r.Read(p)
	b.n -= int64(n)
	return n, err
}
