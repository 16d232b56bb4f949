package analyzer

import "strings"

// Signal tables. Each signal maps to per-domain weights; group contributions
// are saturating weighted sums normalized to [0,1] before the group weight is
// applied.

var extensionSignals = map[string]map[Domain]float64{
	".tsx":    {DomainFrontend: 1.0},
	".jsx":    {DomainFrontend: 1.0},
	".vue":    {DomainFrontend: 1.0},
	".svelte": {DomainFrontend: 1.0},
	".css":    {DomainFrontend: 0.8},
	".scss":   {DomainFrontend: 0.8},
	".html":   {DomainFrontend: 0.6},
	".ts":     {DomainFrontend: 0.4, DomainBackend: 0.4},
	".js":     {DomainFrontend: 0.4, DomainBackend: 0.4},
	".go":     {DomainBackend: 1.0},
	".py":     {DomainBackend: 0.8, DomainAnalysis: 0.3},
	".rb":     {DomainBackend: 0.8},
	".java":   {DomainBackend: 0.8},
	".rs":     {DomainBackend: 0.8, DomainPerformance: 0.3},
	".sql":    {DomainBackend: 0.7},
	".proto":  {DomainBackend: 0.5, DomainArchitecture: 0.4},
	".tf":     {DomainArchitecture: 0.8},
	".ipynb":  {DomainAnalysis: 1.0},
	".md":     {DomainDocumentation: 0.8},
	".rst":    {DomainDocumentation: 0.8},
	".pem":    {DomainSecurity: 0.6},
}

var dirSignals = map[string]map[Domain]float64{
	"components":   {DomainFrontend: 1.0},
	"pages":        {DomainFrontend: 0.8},
	"ui":           {DomainFrontend: 0.8},
	"styles":       {DomainFrontend: 0.7},
	"hooks":        {DomainFrontend: 0.6},
	"public":       {DomainFrontend: 0.4},
	"api":          {DomainBackend: 0.9},
	"server":       {DomainBackend: 0.9},
	"handlers":     {DomainBackend: 0.8},
	"controllers":  {DomainBackend: 0.8},
	"services":     {DomainBackend: 0.7, DomainArchitecture: 0.3},
	"models":       {DomainBackend: 0.6},
	"migrations":   {DomainBackend: 0.6},
	"middleware":   {DomainBackend: 0.6, DomainSecurity: 0.3},
	"auth":         {DomainSecurity: 1.0},
	"security":     {DomainSecurity: 1.0},
	"crypto":       {DomainSecurity: 0.8},
	"bench":        {DomainPerformance: 0.9},
	"benchmarks":   {DomainPerformance: 0.9},
	"perf":         {DomainPerformance: 0.9},
	"cache":        {DomainPerformance: 0.6},
	"infra":        {DomainArchitecture: 0.8},
	"deploy":       {DomainArchitecture: 0.7},
	"architecture": {DomainArchitecture: 1.0},
	"design":       {DomainArchitecture: 0.6},
	"analytics":    {DomainAnalysis: 0.9},
	"metrics":      {DomainAnalysis: 0.7, DomainPerformance: 0.3},
	"docs":         {DomainDocumentation: 1.0},
	"doc":          {DomainDocumentation: 0.9},
}

var keywordSignals = map[string]map[Domain]float64{
	"component":      {DomainFrontend: 0.8},
	"react":          {DomainFrontend: 1.0},
	"usestate":       {DomainFrontend: 0.8},
	"stylesheet":     {DomainFrontend: 0.6},
	"responsive":     {DomainFrontend: 0.5},
	"endpoint":       {DomainBackend: 0.8},
	"database":       {DomainBackend: 0.7},
	"handler":        {DomainBackend: 0.6},
	"middleware":     {DomainBackend: 0.5},
	"transaction":    {DomainBackend: 0.5},
	"vulnerability":  {DomainSecurity: 1.0},
	"authentication": {DomainSecurity: 0.9},
	"encrypt":        {DomainSecurity: 0.8},
	"token":          {DomainSecurity: 0.5},
	"sanitize":       {DomainSecurity: 0.6},
	"benchmark":      {DomainPerformance: 0.9},
	"latency":        {DomainPerformance: 0.8},
	"optimize":       {DomainPerformance: 0.7},
	"throughput":     {DomainPerformance: 0.7},
	"microservice":   {DomainArchitecture: 0.9},
	"scalability":    {DomainArchitecture: 0.7},
	"event-driven":   {DomainArchitecture: 0.6},
	"dataset":        {DomainAnalysis: 0.8},
	"regression":     {DomainAnalysis: 0.6},
	"visualization":  {DomainAnalysis: 0.6},
	"changelog":      {DomainDocumentation: 0.7},
	"readme":         {DomainDocumentation: 0.6},
}

var importSignals = map[string]map[Domain]float64{
	"react":         {DomainFrontend: 1.0},
	"vue":           {DomainFrontend: 1.0},
	"next":          {DomainFrontend: 0.9},
	"tailwind":      {DomainFrontend: 0.7},
	"express":       {DomainBackend: 0.9},
	"fastapi":       {DomainBackend: 0.9},
	"django":        {DomainBackend: 0.9},
	"gin-gonic":     {DomainBackend: 0.9},
	"go-chi":        {DomainBackend: 0.8},
	"pgx":           {DomainBackend: 0.7},
	"helmet":        {DomainSecurity: 0.8},
	"bcrypt":        {DomainSecurity: 0.8},
	"jsonwebtoken":  {DomainSecurity: 0.7},
	"golang-jwt":    {DomainSecurity: 0.7},
	"prometheus":    {DomainPerformance: 0.6, DomainAnalysis: 0.4},
	"opentelemetry": {DomainPerformance: 0.5, DomainArchitecture: 0.4},
	"pandas":        {DomainAnalysis: 0.9},
	"numpy":         {DomainAnalysis: 0.8},
	"terraform":     {DomainArchitecture: 0.8},
	"kubernetes":    {DomainArchitecture: 0.8},
}

// sampleableExt marks extensions whose content is worth keyword sampling.
var sampleableExt = map[string]bool{
	".go": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true, ".rb": true, ".java": true, ".rs": true, ".vue": true,
	".md": true, ".sql": true, ".yaml": true, ".yml": true,
}

var manifestNames = map[string]bool{
	"package.json":     true,
	"go.mod":           true,
	"requirements.txt": true,
	"pyproject.toml":   true,
	"gemfile":          true,
	"cargo.toml":       true,
	"pom.xml":          true,
}

func isManifest(name string) bool {
	return manifestNames[strings.ToLower(name)]
}

// saturationHits is the hit count at which a signal group's contribution to a
// domain reaches 1.0.
const saturationHits = 5.0

// accumulator gathers raw hits during a walk and folds them into per-domain
// scores at the end.
type accumulator struct {
	extCounts     map[string]int
	dirCounts     map[string]int
	keywordCounts map[string]int
	importCounts  map[string]int
	filesSeen     int
}

func newAccumulator() *accumulator {
	return &accumulator{
		extCounts:     make(map[string]int),
		dirCounts:     make(map[string]int),
		keywordCounts: make(map[string]int),
		importCounts:  make(map[string]int),
	}
}

func (a *accumulator) addExtension(ext string) {
	if ext == "" {
		return
	}
	a.extCounts[ext]++
}

func (a *accumulator) addDir(name string) {
	name = strings.ToLower(name)
	if _, ok := dirSignals[name]; ok {
		a.dirCounts[name]++
	}
}

func (a *accumulator) addKeyword(kw string) { a.keywordCounts[kw]++ }
func (a *accumulator) addImport(fw string)  { a.importCounts[fw]++ }

// scores folds raw hit counts into the weighted per-domain score map.
func (a *accumulator) scores() map[Domain]float64 {
	ext := groupScores(a.extCounts, extensionSignals)
	dir := groupScores(a.dirCounts, dirSignals)
	kw := groupScores(a.keywordCounts, keywordSignals)
	imp := groupScores(a.importCounts, importSignals)

	out := make(map[Domain]float64, len(Domains))
	for _, d := range Domains {
		s := weightExtensions*ext[d] + weightDirs*dir[d] + weightKeywords*kw[d] + weightImports*imp[d]
		if s > 1 {
			s = 1
		}
		out[d] = s
	}
	return out
}

// groupScores converts raw signal hit counts into saturating [0,1] scores per
// domain for one signal group.
func groupScores(counts map[string]int, table map[string]map[Domain]float64) map[Domain]float64 {
	raw := make(map[Domain]float64)
	for sig, n := range counts {
		weights, ok := table[sig]
		if !ok {
			continue
		}
		hits := float64(n)
		if hits > saturationHits {
			hits = saturationHits
		}
		for d, w := range weights {
			raw[d] += w * hits / saturationHits
		}
	}
	out := make(map[Domain]float64, len(raw))
	for d, v := range raw {
		if v > 1 {
			v = 1
		}
		out[d] = v
	}
	return out
}
