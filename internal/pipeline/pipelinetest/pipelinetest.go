// Package pipelinetest provides small design files for tests.
package pipelinetest

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/pcbview/boardworker/internal/pipeline"
)

// TopCopper is a top copper layer with one 10mm trace and one pad.
const TopCopper = `G04 top copper*
%FSLAX26Y26*%
%MOMM*%
%ADD10C,0.5*%
%ADD11R,1.0X2.0*%
D10*
X0Y0D02*
X10000000Y0D01*
D11*
X5000000Y5000000D03*
M02*
`

// BottomMask is a bottom soldermask layer with one round opening.
const BottomMask = `%FSLAX26Y26*%
%MOMM*%
%ADD10C,1.2*%
D10*
X5000000Y5000000D03*
M02*
`

// Outline is a 20mm x 10mm board outline.
const Outline = `%FSLAX26Y26*%
%MOMM*%
%ADD10C,0.1*%
D10*
X0Y0D02*
X20000000Y0D01*
X20000000Y10000000D01*
X0Y10000000D01*
X0Y0D01*
M02*
`

// Drill is an Excellon file with two hits.
const Drill = `M48
METRIC,TZ
T1C0.8
%
T1
X5.0Y5.0
X15.0Y5.0
M30
`

// Files returns a complete design named "demo".
func Files() []pipeline.File {
	return []pipeline.File{
		{Name: "demo.gtl", Data: []byte(TopCopper)},
		{Name: "demo.gbs", Data: []byte(BottomMask)},
		{Name: "demo.gko", Data: []byte(Outline)},
		{Name: "demo.drl", Data: []byte(Drill)},
	}
}

// Zip packs files into a zip archive.
func Zip(t testing.TB, files []pipeline.File) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.Name)
		if err != nil {
			t.Fatalf("zip create %s: %v", f.Name, err)
		}
		if _, err := w.Write(f.Data); err != nil {
			t.Fatalf("zip write %s: %v", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}
