package types

import "time"

// SecurityTier classifies a memory for storage and surfacing
type SecurityTier string

const (
	TierGeneral  SecurityTier = "general"  // plain content, vectorized
	TierPersonal SecurityTier = "personal" // private but searchable
	TierVault    SecurityTier = "vault"    // sealed, never vectorized
)

// ForgottenState tracks the forget lifecycle of a memory
type ForgottenState string

const (
	StateActive        ForgottenState = "active"
	StateSuppressed    ForgottenState = "suppressed"     // hidden from retrieval, loops/events intact
	StateArchived      ForgottenState = "archived"       // hidden, out of vector index
	StatePendingDelete ForgottenState = "pending_delete" // hard-deleted after the grace window
)

// ForgetMode selects the forget behavior
type ForgetMode string

const (
	ForgetSuppress ForgetMode = "suppress"
	ForgetArchive  ForgetMode = "archive"
	ForgetDelete   ForgetMode = "delete"
)

// VectorState tracks the second phase of a memory write
type VectorState string

const (
	VectorPending VectorState = "pending" // queued for embed+upsert
	VectorIndexed VectorState = "indexed"
	VectorSkipped VectorState = "skipped" // vault tier or embedder disabled
	VectorFailed  VectorState = "failed"  // retries exhausted
)

// ExtractionStatus records which extraction path produced the features
type ExtractionStatus string

const (
	ExtractionOK       ExtractionStatus = "ok"
	ExtractionFallback ExtractionStatus = "fallback" // LLM failed, heuristic used
	ExtractionEmpty    ExtractionStatus = "empty"
)

// Commitment is an unresolved obligation found in memory text
type Commitment struct {
	Text       string     `json:"text"`
	Owner      string     `json:"owner"` // self, them, mutual
	OtherParty string     `json:"other_party,omitempty"`
	DueDate    *time.Time `json:"due_date,omitempty"`
	LoopType   string     `json:"loop_type"` // promise, waiting_on, deadline, followup
}

// EventMention is a dated fact found in memory text
type EventMention struct {
	Description string    `json:"description"`
	Person      string    `json:"person,omitempty"`
	Date        time.Time `json:"date"`
	Category    string    `json:"category"` // meeting, birthday, appointment, deadline, social
}

// Features is the structured output of extraction
type Features struct {
	People        []string       `json:"people,omitempty"` // canonicalized names
	Topics        []string       `json:"topics,omitempty"`
	Commitments   []Commitment   `json:"commitments,omitempty"`
	Events        []EventMention `json:"events,omitempty"`
	Sensitivities []string       `json:"sensitivities,omitempty"`
}

// IsEmpty reports whether extraction found nothing at all
func (f Features) IsEmpty() bool {
	return len(f.People) == 0 && len(f.Topics) == 0 && len(f.Commitments) == 0 &&
		len(f.Events) == 0 && len(f.Sensitivities) == 0
}

// SalienceFactors is the persisted factor breakdown behind a salience score
type SalienceFactors struct {
	Emotion       float64 `json:"emotion"`
	Novelty       float64 `json:"novelty"`
	Relevance     float64 `json:"relevance"`
	Social        float64 `json:"social"`
	Consequential float64 `json:"consequential"`
}

// Envelope seals vault-tier content at rest
type Envelope struct {
	Scheme string `json:"scheme"` // chacha20poly1305, plain
	Nonce  string `json:"nonce,omitempty"`
	Data   string `json:"data"` // base64
}

// Memory is one stored observation with features, salience, and tier
type Memory struct {
	ID               string           `json:"id"`
	User             string           `json:"user"`
	CreatedAt        time.Time        `json:"created_at"`
	Text             string           `json:"text"` // empty at rest for vault tier
	NormalizedText   string           `json:"normalized_text"`
	Features         Features         `json:"features"`
	Salience         int              `json:"salience"` // 0-100
	Factors          SalienceFactors  `json:"factors"`
	Tier             SecurityTier     `json:"tier"`
	Envelope         *Envelope        `json:"envelope,omitempty"`
	Forgotten        ForgottenState   `json:"forgotten"`
	ForgottenAt      *time.Time       `json:"forgotten_at,omitempty"`
	ForgottenReason  string           `json:"forgotten_reason,omitempty"`
	Project          string           `json:"project,omitempty"`
	AddedTags        []string         `json:"added_tags,omitempty"`
	AddedTopics      []string         `json:"added_topics,omitempty"`
	VectorState      VectorState      `json:"vector_state"`
	ExtractionStatus ExtractionStatus `json:"extraction_status"`
	LastVotedAt      *time.Time       `json:"last_voted_at,omitempty"`
}

// AllTopics returns extracted topics merged with manually added ones
func (m *Memory) AllTopics() []string {
	return MergeSets(m.Features.Topics, m.AddedTopics)
}

// MergeSets unions two string sets preserving first-seen order
func MergeSets(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// OpenLoop is an unresolved commitment derived from a memory
type OpenLoop struct {
	ID             string     `json:"id"`
	User           string     `json:"user"`
	Description    string     `json:"description"`
	Owner          string     `json:"owner"` // self, them, mutual
	OtherParty     string     `json:"other_party,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	LoopType       string     `json:"loop_type"`
	SourceMemoryID string     `json:"source_memory_id,omitempty"` // empty for person-level loops
	CreatedAt      time.Time  `json:"created_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	ClosedNote     string     `json:"closed_note,omitempty"`
}

// IsOverdue reports whether the loop is open past its due date
func (l *OpenLoop) IsOverdue(now time.Time) bool {
	return l.ClosedAt == nil && l.DueDate != nil && now.After(*l.DueDate)
}

// TimelineEvent is a dated fact derived from a memory
type TimelineEvent struct {
	ID             string    `json:"id"`
	User           string    `json:"user"`
	Description    string    `json:"description"`
	Person         string    `json:"person,omitempty"`
	EventDate      time.Time `json:"event_date"`
	Category       string    `json:"category"`
	SourceMemoryID string    `json:"source_memory_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// EngagementTrend summarizes recent interaction direction with a contact
type EngagementTrend string

const (
	TrendRising  EngagementTrend = "rising"
	TrendStable  EngagementTrend = "stable"
	TrendFalling EngagementTrend = "falling"
	TrendCold    EngagementTrend = "cold"
)

// Relationship is the per-contact aggregate maintained on every memory write
type Relationship struct {
	User              string          `json:"user"`
	Name              string          `json:"name"` // canonical
	Nicknames         []string        `json:"nicknames,omitempty"`
	TotalInteractions int             `json:"total_interactions"`
	LastInteractionAt *time.Time      `json:"last_interaction_at,omitempty"`
	DaysSince         int             `json:"days_since"` // derived at read
	Trend             EngagementTrend `json:"trend"`
	Sensitivities     []string        `json:"sensitivities,omitempty"`
	ColdThresholdDays int             `json:"cold_threshold_days"`
}

// DeviceType identifies the kind of device behind a context frame
type DeviceType string

const (
	DeviceMobile  DeviceType = "mobile"
	DeviceDesktop DeviceType = "desktop"
	DeviceWeb     DeviceType = "web"
	DeviceAPI     DeviceType = "api"
	DeviceMCP     DeviceType = "mcp"
)

// FusionPriority orders device types for unified-context tie-breaks
func (d DeviceType) FusionPriority() int {
	switch d {
	case DeviceMobile:
		return 5
	case DeviceDesktop:
		return 4
	case DeviceWeb:
		return 3
	case DeviceAPI:
		return 2
	case DeviceMCP:
		return 1
	}
	return 0
}

// Provenance records who set a context dimension
type Provenance string

const (
	ProvUser    Provenance = "user"
	ProvDerived Provenance = "derived"
)

// Dimension is one scalar context value with provenance
type Dimension struct {
	Value      string     `json:"value"`
	Provenance Provenance `json:"provenance"`
	SetAt      time.Time  `json:"set_at"`
}

// ListDimension is a set-valued context dimension (people)
type ListDimension struct {
	Values     []string   `json:"values"`
	Provenance Provenance `json:"provenance"`
	SetAt      time.Time  `json:"set_at"`
}

// ContextFrame is the per-(user, device) context snapshot
type ContextFrame struct {
	User        string         `json:"user"`
	DeviceID    string         `json:"device_id"`
	DeviceType  DeviceType     `json:"device_type"`
	Location    *Dimension     `json:"location,omitempty"`
	People      *ListDimension `json:"people,omitempty"`
	Activity    *Dimension     `json:"activity,omitempty"`
	Mood        *Dimension     `json:"mood,omitempty"`
	Calendar    *Dimension     `json:"calendar,omitempty"`
	LastUpdated time.Time      `json:"last_updated"`
}

// UnifiedContext is the fused view across a user's active device frames
type UnifiedContext struct {
	User              string     `json:"user"`
	Location          string     `json:"location,omitempty"`
	LocationDevice    string     `json:"location_device,omitempty"`
	People            []string   `json:"people,omitempty"`
	Activity          string     `json:"activity,omitempty"`
	Mood              string     `json:"mood,omitempty"`
	PrimaryDevice     string     `json:"primary_device,omitempty"`
	PrimaryDeviceType DeviceType `json:"primary_device_type,omitempty"`
	ActiveDevices     int        `json:"active_devices"`
	ComputedAt        time.Time  `json:"computed_at"`
}

// MemoryRef is a lightweight pointer to a memory for snapshots and suggestions
type MemoryRef struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Salience  int       `json:"salience"`
	CreatedAt time.Time `json:"created_at"`
}

// PersonDigest is the per-person slice of a relevance snapshot
type PersonDigest struct {
	Person         string          `json:"person"`
	OpenLoops      []OpenLoop      `json:"open_loops,omitempty"`
	UpcomingEvents []TimelineEvent `json:"upcoming_events,omitempty"`
	RecentMemories []MemoryRef     `json:"recent_memories,omitempty"`
}

// RelevanceSnapshot is computed on every context write
type RelevanceSnapshot struct {
	AboutPeople     []PersonDigest `json:"about_people,omitempty"`
	SuggestedTopics []string       `json:"suggested_topics,omitempty"`
	Sensitivities   []string       `json:"sensitivities,omitempty"`
	ComputedAt      time.Time      `json:"computed_at"`
}

// Observation is one context sample feeding pattern formation
type Observation struct {
	ID             string    `json:"id"`
	User           string    `json:"user"`
	ObservedAt     time.Time `json:"observed_at"`
	TimeOfDay      string    `json:"time_of_day"` // morning, afternoon, evening, night
	DayOfWeek      string    `json:"day_of_week"`
	LocationBucket string    `json:"location_bucket,omitempty"`
	Location       string    `json:"location,omitempty"`
	People         []string  `json:"people,omitempty"`
	Activity       string    `json:"activity,omitempty"`
	EventTitle     string    `json:"event_title,omitempty"`
}

// PatternStatus tracks the pattern lifecycle
type PatternStatus string

const (
	PatternNew       PatternStatus = "new"
	PatternCandidate PatternStatus = "candidate" // count reached, window not yet
	PatternFormed    PatternStatus = "formed"
	PatternDecayed   PatternStatus = "decayed"
)

// FeedbackAction is one entry kind in a pattern's feedback ledger
type FeedbackAction string

const (
	FeedbackUsed      FeedbackAction = "used"
	FeedbackIgnored   FeedbackAction = "ignored"
	FeedbackDismissed FeedbackAction = "dismissed"
)

// FeedbackEntry is an append-only ledger record
type FeedbackEntry struct {
	Action FeedbackAction `json:"action"`
	At     time.Time      `json:"at"`
}

// Prototype is the modal context a pattern predicts
type Prototype struct {
	Location string   `json:"location,omitempty"`
	People   []string `json:"people,omitempty"`
	Activity string   `json:"activity,omitempty"`
}

// Pattern is a recurring context bucket learned from observations
type Pattern struct {
	ID              string          `json:"id"`
	User            string          `json:"user"`
	FeatureKey      string          `json:"feature_key"` // timeOfDay|dayOfWeek|locationBucket|eventTitle
	TimeOfDay       string          `json:"time_of_day"`
	DayOfWeek       string          `json:"day_of_week"`
	LocationBucket  string          `json:"location_bucket,omitempty"`
	EventTitle      string          `json:"event_title,omitempty"`
	Prototype       Prototype       `json:"prototype"`
	Count           int             `json:"count"`
	Confidence      float64         `json:"confidence"`
	Status          PatternStatus   `json:"status"`
	FirstObservedAt time.Time       `json:"first_observed_at"`
	LastObservedAt  time.Time       `json:"last_observed_at"`
	FormedAt        *time.Time      `json:"formed_at,omitempty"`
	Feedback        []FeedbackEntry `json:"feedback,omitempty"`
}

// AnticipatedContext is a forecast produced by the anticipation engine
type AnticipatedContext struct {
	PatternID          string      `json:"pattern_id"`
	TriggerTime        time.Time   `json:"trigger_time"`
	Confidence         float64     `json:"confidence"`
	Location           string      `json:"location,omitempty"`
	People             []string    `json:"people,omitempty"`
	Activity           string      `json:"activity,omitempty"`
	EventTitle         string      `json:"event_title,omitempty"`
	SuggestedBriefings []string    `json:"suggested_briefings,omitempty"`
	SuggestedTopics    []string    `json:"suggested_topics,omitempty"`
	SuggestedMemories  []MemoryRef `json:"suggested_memories,omitempty"`
}

// CalendarEvent is a caller-supplied upcoming event for anticipation
type CalendarEvent struct {
	Title     string    `json:"title"`
	StartsAt  time.Time `json:"starts_at"`
	Location  string    `json:"location,omitempty"`
	Attendees []string  `json:"attendees,omitempty"`
}

// NGramBlock holds the character-trigram slice of a fingerprint
type NGramBlock struct {
	Top       map[string]float64 `json:"top,omitempty"` // trigram -> relative freq
	Signature string             `json:"signature,omitempty"`
}

// FunctionWordBlock holds function-word frequencies over the fixed vocabulary
type FunctionWordBlock struct {
	Freq      map[string]float64 `json:"freq,omitempty"`
	Signature string             `json:"signature,omitempty"`
}

// VocabularyBlock holds lexical richness metrics
type VocabularyBlock struct {
	AvgWordLen        float64 `json:"avg_word_len"`
	AbbreviationRatio float64 `json:"abbreviation_ratio"`
	TypeTokenRatio    float64 `json:"type_token_ratio"`
	HapaxRatio        float64 `json:"hapax_ratio"`
	AvgSyllables      float64 `json:"avg_syllables"`
}

// SyntaxBlock holds sentence-structure metrics
type SyntaxBlock struct {
	AvgSentenceLen      float64 `json:"avg_sentence_len"`
	CapitalizationRatio float64 `json:"capitalization_ratio"`
	CommaFreq           float64 `json:"comma_freq"`
	ClauseComplexity    float64 `json:"clause_complexity"`
	PunctuationStyle    string  `json:"punctuation_style"` // minimal, standard, expressive
	UsesSemicolons      bool    `json:"uses_semicolons"`
	UsesEllipses        bool    `json:"uses_ellipses"`
}

// StyleBlock holds register and tone metrics
type StyleBlock struct {
	Formality        float64 `json:"formality"`
	EmojiDensity     float64 `json:"emoji_density"`
	Politeness       float64 `json:"politeness"`
	ContractionRatio float64 `json:"contraction_ratio"`
	NumberStyle      string  `json:"number_style"` // digits, words, mixed
	ListUsage        bool    `json:"list_usage"`
}

// TimingBlock holds when the author tends to write
type TimingBlock struct {
	Hours []int    `json:"hours,omitempty"` // 0-23
	Days  []string `json:"days,omitempty"`  // Monday..Sunday
}

// Signals is the seven-block stylometric measurement of one message
type Signals struct {
	CharNGrams    NGramBlock         `json:"char_ngrams"`
	FunctionWords FunctionWordBlock  `json:"function_words"`
	Vocabulary    VocabularyBlock    `json:"vocabulary"`
	Syntax        SyntaxBlock        `json:"syntax"`
	Style         StyleBlock         `json:"style"`
	Timing        TimingBlock        `json:"timing"`
	Topics        map[string]float64 `json:"topics,omitempty"`
}

// Fingerprint is the per-user accumulated stylometric profile
type Fingerprint struct {
	User        string    `json:"user"`
	SampleCount int       `json:"sample_count"`
	Signals     Signals   `json:"signals"`
	LastUpdated time.Time `json:"last_updated"`
}

// Ready reports whether the fingerprint has enough samples to identify
func (f *Fingerprint) Ready(minSamples int) bool {
	return f.SampleCount >= minSamples
}

// IdentityPrediction records one identification attempt for later feedback
type IdentityPrediction struct {
	ID            string             `json:"id"`
	MessageHash   string             `json:"message_hash"`
	PredictedUser string             `json:"predicted_user,omitempty"`
	Confidence    float64            `json:"confidence"`
	BlockScores   map[string]float64 `json:"block_scores,omitempty"`
	Signals       *Signals           `json:"signals,omitempty"` // derived stylometry, not the message text
	ObservedAt    time.Time          `json:"observed_at"`
	Feedback      string             `json:"feedback,omitempty"` // confirmed, corrected:<user>
	FeedbackAt    *time.Time         `json:"feedback_at,omitempty"`
}

// Briefing is the per-person digest served by getBriefing
type Briefing struct {
	Person          string          `json:"person"`
	Relationship    *Relationship   `json:"relationship,omitempty"`
	OpenLoops       []OpenLoop      `json:"open_loops,omitempty"`
	UpcomingEvents  []TimelineEvent `json:"upcoming_events,omitempty"`
	RecentMemories  []MemoryRef     `json:"recent_memories,omitempty"`
	Sensitivities   []string        `json:"sensitivities,omitempty"`
	SuggestedTopics []string        `json:"suggested_topics,omitempty"`
	GeneratedAt     time.Time       `json:"generated_at"`
}

// DayOutlook is the morning summary from the anticipation engine
type DayOutlook struct {
	Greeting         string               `json:"greeting"`
	Outlook          string               `json:"outlook"`
	Insights         []string             `json:"insights,omitempty"`
	UpcomingSwitches []AnticipatedContext `json:"upcoming_switches,omitempty"`
	GeneratedAt      time.Time            `json:"generated_at"`
}

// DeviceSummary is one row of listDevices
type DeviceSummary struct {
	DeviceID    string     `json:"device_id"`
	DeviceType  DeviceType `json:"device_type"`
	LastUpdated time.Time  `json:"last_updated"`
	Active      bool       `json:"active"` // within the fusion window
}
