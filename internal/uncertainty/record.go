package uncertainty

import (
	"bytes"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/dropwise/internal/mcdropout"
)

// Field is one named value of a Record.
type Field struct {
	Key   string
	Value any
}

// Record holds the uncertainty statistics for one input text. Field order
// is stable and is preserved when marshalled to JSON.
type Record struct {
	fields []Field
}

// Fields returns the record's fields in display order.
func (r Record) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Get returns the value stored under key.
func (r Record) Get(key string) (any, bool) {
	for _, f := range r.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Float returns a numeric field as float64.
func (r Record) Float(key string) (float64, bool) {
	v, ok := r.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *Record) add(key string, value any) {
	r.fields = append(r.fields, Field{Key: key, Value: value})
}

func classRecord(text string, st mcdropout.ClassStats, labels map[int]string) Record {
	var r Record
	r.add("input", text)
	r.add("predicted_class", st.PredictedClass)
	if name, ok := labels[st.PredictedClass]; ok {
		r.add("label", name)
	}
	r.add("confidence", st.Confidence)
	r.add("entropy", st.Entropy)
	r.add("expected_entropy", st.ExpectedEntropy)
	r.add("mutual_information", st.MutualInformation)
	r.add("variation_ratio", st.VariationRatio)
	r.add("margin", st.Margin)
	r.add("std_dev", st.StdDev)
	r.add("passes", st.Passes)
	return r
}

func regressionRecord(text string, st mcdropout.RegressionStats) Record {
	var r Record
	r.add("input", text)
	r.add("mean", st.Mean)
	r.add("std_dev", st.StdDev)
	r.add("variance", st.Variance)
	r.add("passes", st.Passes)
	return r
}
