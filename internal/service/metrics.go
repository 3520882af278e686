package service

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the domain counters updated by the document service.
type Metrics struct {
	uploads     prometheus.Counter
	uploadBytes prometheus.Counter
}

// NewMetrics creates the counters and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		uploads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "documents_uploaded_total",
			Help: "Total number of document files stored.",
		}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "document_upload_bytes_total",
			Help: "Total bytes of document files stored.",
		}),
	}
	for _, c := range []prometheus.Collector{m.uploads, m.uploadBytes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeUpload(size int64) {
	if m == nil {
		return
	}
	m.uploads.Inc()
	if size > 0 {
		m.uploadBytes.Add(float64(size))
	}
}
