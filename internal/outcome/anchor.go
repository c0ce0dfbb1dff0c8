package outcome

import "time"

// Anchor is a semantic anchor: a description embedded and labelled with
// the metric key it stands for. A blank TenantID marks a global anchor.
type Anchor struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenantId,omitempty"`
	Description       string     `json:"description"`
	Vector            []float32  `json:"-"`
	MetricKey         MetricKey  `json:"metricKey"`
	Language          string     `json:"language"`
	UsageCount        int64      `json:"usageCount"`
	AverageSimilarity float64    `json:"averageSimilarity"`
	LastUsedAt        *time.Time `json:"lastUsedAt,omitempty"`
}

// AnchorMatch is one ranked similarity hit.
type AnchorMatch struct {
	ID                string    `json:"id"`
	MetricKey         MetricKey `json:"metricKey"`
	Description       string    `json:"description"`
	Similarity        float64   `json:"similarity"`
	UsageCount        int64     `json:"usageCount"`
	AverageSimilarity float64   `json:"averageSimilarity"`
}
