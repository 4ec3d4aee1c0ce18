package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// AnalysisStatus is the lifecycle state of a photo group's analysis
type AnalysisStatus string

const (
	AnalysisPending    AnalysisStatus = "PENDING"
	AnalysisProcessing AnalysisStatus = "PROCESSING"
	AnalysisCompleted  AnalysisStatus = "COMPLETED"
	AnalysisFailed     AnalysisStatus = "FAILED"
)

// Field is a paddy owned by one grower
type Field struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	OwnerID      string          `gorm:"type:varchar(64);index;not null" json:"owner_id"`
	Name         string          `gorm:"type:varchar(255);not null" json:"name"`
	Location     string          `gorm:"type:varchar(255);index" json:"location"`
	AreaMu       float64         `json:"area_mu"`
	PlantingDate *datatypes.Date `json:"planting_date,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`

	PhotoGroups []PhotoGroup `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// PhotoGroup is one sampling event: four co-captured images of a field
type PhotoGroup struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	FieldID          uint           `gorm:"index;not null" json:"field_id"`
	CaptureDate      datatypes.Date `gorm:"index" json:"capture_date"`
	RiceVariety      *string        `gorm:"type:varchar(128)" json:"rice_variety,omitempty"`
	DroneImagePath   string         `gorm:"not null" json:"drone_image_path"`
	Closeup05mPath   string         `gorm:"column:closeup_05m_path;not null" json:"closeup_05m_path"`
	Horizontal3mPath string         `gorm:"column:horizontal_3m_path;not null" json:"horizontal_3m_path"`
	Vertical3mPath   string         `gorm:"column:vertical_3m_path;not null" json:"vertical_3m_path"`
	Status           AnalysisStatus `gorm:"type:varchar(16);index;not null;default:PENDING" json:"status"`
	JobID            *string        `gorm:"type:varchar(36);index" json:"job_id,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`

	Field  *Field          `json:"-"`
	Result *AnalysisResult `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Jobs   []Job           `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// ImagePaths returns the four image references in capture order
func (p *PhotoGroup) ImagePaths() map[string]string {
	return map[string]string{
		"drone":      p.DroneImagePath,
		"closeup":    p.Closeup05mPath,
		"horizontal": p.Horizontal3mPath,
		"vertical":   p.Vertical3mPath,
	}
}

// Metric provenance recorded in AnalysisResult.MetricSources
const (
	SourceCV      = "cv"
	SourceVision  = "vision"
	SourceDerived = "derived"
)

// AnalysisResult holds the merged measurements for exactly one photo group.
// Nil fields were unavailable; MetricSources says where each set value came from.
type AnalysisResult struct {
	ID           uint    `gorm:"primaryKey" json:"id"`
	PhotoGroupID uint    `gorm:"uniqueIndex;not null" json:"photo_group_id"`
	JobID        *string `gorm:"type:varchar(36)" json:"job_id,omitempty"` // job whose run produced it

	Coverage         *float64 `json:"coverage"`
	CanopyColorIndex *float64 `json:"canopy_color_index"`
	UniformityIndex  *float64 `json:"uniformity_index"`
	AvgPlantHeight   *float64 `json:"avg_plant_height"`
	HeightStdDev     *float64 `json:"height_std_dev"`
	RowSpacingCM     *float64 `gorm:"column:estimated_row_spacing_cm" json:"estimated_row_spacing_cm"`
	PlantSpacingCM   *float64 `gorm:"column:estimated_plant_spacing_cm" json:"estimated_plant_spacing_cm"`
	SeedlingsPerMu   *float64 `json:"seedlings_per_mu"`
	PaniclesPerMu    *float64 `json:"panicles_per_mu"`
	TillerDensity    *float64 `gorm:"column:tiller_density_estimate" json:"tiller_density_estimate"`
	LeafAge          *float64 `gorm:"column:estimated_leaf_age" json:"estimated_leaf_age"`
	TillersPerPlant  *float64 `gorm:"column:estimated_tillers_per_plant" json:"estimated_tillers_per_plant"`
	LodgingStatus    *string  `gorm:"type:varchar(32)" json:"lodging_status"`

	VisionStatus    string  `gorm:"type:varchar(16)" json:"vision_status"`
	VisionModel     string  `gorm:"type:varchar(128)" json:"vision_model,omitempty"`
	AnalysisText    *string `gorm:"column:vision_analysis_text" json:"vision_analysis_text"`
	Suggestions     *string `gorm:"column:vision_suggestions" json:"vision_suggestions"`
	PestRisk        *string `gorm:"type:varchar(32)" json:"pest_risk"`
	LeafColorHealth *string `gorm:"type:varchar(32)" json:"leaf_color_health"`

	MetricSources datatypes.JSON `json:"metric_sources"`
	Notes         datatypes.JSON `json:"notes"`

	AnalyzedAt time.Time `gorm:"index" json:"analysis_time"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FromJob reports whether the result was produced by the run of jobID.
// Results stored outside the queue carry no job and match a nil jobID.
func (r *AnalysisResult) FromJob(jobID *string) bool {
	if r.JobID == nil || jobID == nil {
		return r.JobID == nil && jobID == nil
	}
	return *r.JobID == *jobID
}

// SetSources stores the metric provenance map
func (r *AnalysisResult) SetSources(sources map[string]string) {
	data, _ := json.Marshal(sources)
	r.MetricSources = datatypes.JSON(data)
}

// Sources decodes the metric provenance map
func (r *AnalysisResult) Sources() map[string]string {
	out := map[string]string{}
	if len(r.MetricSources) > 0 {
		_ = json.Unmarshal(r.MetricSources, &out)
	}
	return out
}

// SetNotes stores the degradation notes
func (r *AnalysisResult) SetNotes(notes []string) {
	if notes == nil {
		notes = []string{}
	}
	data, _ := json.Marshal(notes)
	r.Notes = datatypes.JSON(data)
}

// NoteList decodes the degradation notes
func (r *AnalysisResult) NoteList() []string {
	var out []string
	if len(r.Notes) > 0 {
		_ = json.Unmarshal(r.Notes, &out)
	}
	return out
}

// JobStatus is the queue-side state of an analysis job
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobSucceeded JobStatus = "SUCCEEDED"
	JobFailed    JobStatus = "FAILED"
)

// Job is one asynchronous analysis request for a photo group
type Job struct {
	ID           string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	PhotoGroupID uint       `gorm:"index;not null" json:"photo_group_id"`
	Status       JobStatus  `gorm:"type:varchar(16);index;not null" json:"status"`
	Attempts     int        `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts  int        `gorm:"not null" json:"max_attempts"`
	RunAt        time.Time  `gorm:"index" json:"run_at"`
	WorkerID     *string    `gorm:"type:varchar(128)" json:"worker_id,omitempty"`
	LeasedAt     *time.Time `json:"leased_at,omitempty"`
	LastError    *string    `json:"last_error,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// All lists every model for AutoMigrate
func All() []interface{} {
	return []interface{}{&Field{}, &PhotoGroup{}, &AnalysisResult{}, &Job{}}
}
