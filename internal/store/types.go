package store

// Plan is a top-level unit of work.
type Plan struct {
	Workspace   string
	ID          string
	Title       string
	Description string
	Context     string
	Status      string // ACTIVE | TODO | PARKED | DONE
	Priority    int
	Revision    int64
	CreatedAtMs int64
	UpdatedAtMs int64
}

// Checkpoints holds the five manual/auto confirmation axes shared by tasks.
type Checkpoints struct {
	CriteriaManual bool
	CriteriaAuto   bool
	TestsManual    bool
	TestsAuto      bool
	SecurityManual bool
	SecurityAuto   bool
	PerfManual     bool
	PerfAuto       bool
	DocsManual     bool
	DocsAuto       bool
}

// Task is a unit of work under a Plan.
type Task struct {
	Workspace        string
	ID               string
	PlanID           string
	Title            string
	Description      string
	Context          string
	Status           string
	Priority         int
	Blocked          bool
	ParkedUntilTsMs  *int64
	StaleAfterMs     *int64
	ReasoningMode    string // off | normal | strong
	Checkpoints      Checkpoints
	SalvagedProofRef []string
	Revision         int64
	CreatedAtMs      int64
	UpdatedAtMs      int64
}

// ProofMode is one of the three axis-level proof requirement levels.
type ProofMode string

const (
	ProofModeRequire ProofMode = "require"
	ProofModePrefer  ProofMode = "prefer"
	ProofModeOff     ProofMode = "off"
)

// StepProofModes holds the five proof_*_mode settings on a step.
type StepProofModes struct {
	Criteria ProofMode
	Tests    ProofMode
	Security ProofMode
	Perf     ProofMode
	Docs     ProofMode
}

// StepConfirmed holds the five *_confirmed checkpoint flags on a step.
type StepConfirmed struct {
	Criteria bool
	Tests    bool
	Security bool
	Perf     bool
	Docs     bool
}

// StepRequire holds the five require_* flags on a step.
type StepRequire struct {
	Criteria bool
	Tests    bool
	Security bool
	Perf     bool
	Docs     bool
}

// StepProofPresent holds the five proof_*_present flags on a step.
type StepProofPresent struct {
	Criteria bool
	Tests    bool
	Security bool
	Perf     bool
	Docs     bool
}

// Step is one node of a task's step tree.
type Step struct {
	Workspace        string
	ID               string
	TaskID           string
	Path             string // s:i[.s:j...]
	Title            string
	SuccessCriteria  []string
	Tests            []string
	Blockers         []string
	Rollback         []string
	Status           string // open | done
	Confirmed        StepConfirmed
	Require          StepRequire
	ProofModes       StepProofModes
	ProofPresent     StepProofPresent
	Revision         int64
	CreatedAtMs      int64
	UpdatedAtMs      int64
}

// Anchor is a stable semantic handle bound to repo paths.
type Anchor struct {
	Workspace   string
	ID          string
	Title       string
	Kind        string // component|ops|contract|data|test-surface
	Status      string
	Description string
	Refs        []string
	Aliases     []string
	ParentID    string
	DependsOn   []string
	Revision    int64
	CreatedAtMs int64
	UpdatedAtMs int64
}

// AnchorBinding maps an anchor to a normalized repo-relative path.
type AnchorBinding struct {
	Workspace   string
	AnchorID    string
	RepoRel     string
	Kind        string
	CreatedAtMs int64
	UpdatedAtMs int64
}

// AnchorLink ties an anchor to a tagged card.
type AnchorLink struct {
	Workspace string
	AnchorID  string
	Branch    string
	GraphDoc  string
	CardID    string
	CardType  string
	LastTsMs  int64
}

// Card is a reasoning node.
type Card struct {
	Workspace   string
	Branch      string
	GraphDoc    string
	ID          string
	Type        string
	Title       string
	Text        string
	Tags        []string
	Status      string
	MetaJSON    string
	Revision    int64
	CreatedAtMs int64
	UpdatedAtMs int64
}

// CardEdge is a supports/blocks edge between two cards in the same doc.
type CardEdge struct {
	Workspace string
	Branch    string
	GraphDoc  string
	FromID    string
	EdgeType  string // supports | blocks
	ToID      string
}

// DocEntry is one append-only row in a (branch, doc) stream.
type DocEntry struct {
	Workspace string
	Branch    string
	Doc       string
	Seq       int64
	TsMs      int64
	Title     string
	Format    string
	MetaJSON  string
	Content   string
}

// Job is a delegated agent execution.
type Job struct {
	Workspace         string
	ID                string
	Title             string
	Prompt            string
	Kind              string
	Priority          int
	Status            string // QUEUED|RUNNING|DONE|FAILED|CANCELED
	TaskID            string
	AnchorID          string
	MetaJSON          string
	RunnerID          string
	LeaseExpiresAtMs  int64
	ClaimRevision     int64
	Summary           string
	ArtifactsJSON     string
	Revision          int64
	CreatedAtMs       int64
	UpdatedAtMs       int64
}

// JobEvent is one append-only row in a job's event stream.
type JobEvent struct {
	Workspace   string
	JobID       string
	Seq         int64
	TsMs        int64
	Kind        string
	PayloadJSON string
}

// RunnerLease tracks a runner's current claim.
type RunnerLease struct {
	Workspace        string
	RunnerID         string
	ActiveJobID      string
	LeaseExpiresAtMs int64
	Status           string // LIVE|IDLE|OFFLINE
}

// KnowledgeEntry is a deduplicated (anchor_id, key) -> card_id mapping.
type KnowledgeEntry struct {
	Workspace   string
	AnchorID    string
	Key         string
	CardID      string
	ContentHash string
	CreatedAtMs int64
}
