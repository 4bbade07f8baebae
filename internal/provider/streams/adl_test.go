package streams

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const sampleADL = `<?xml version="1.0" encoding="UTF-8"?>
<applicationSet xmlns="http://www.ibm.com/xmlns/prod/streams/application/v4200">
  <splApplication name="ns::Main" applicationScope="Default">
    <submissionTimeValues>
      <submissionTimeValue compositeName="ns::Main" kind="named" name="rate" required="true"/>
      <submissionTimeValue compositeName="ns::Main" kind="named" name="topic" required="false" defaultValue="&quot;events&quot;"/>
    </submissionTimeValues>
  </splApplication>
</applicationSet>`

func TestParseADL(t *testing.T) {
	params, err := ParseADL([]byte(sampleADL))
	if err != nil {
		t.Fatalf("ParseADL() error = %v", err)
	}
	if len(params) != 2 {
		t.Fatalf("ParseADL() returned %d params, want 2", len(params))
	}
	if params[0].Name != "rate" || !params[0].Required {
		t.Errorf("params[0] = %+v", params[0])
	}
	if params[1].Name != "topic" || params[1].Required || params[1].DefaultValue != `"events"` {
		t.Errorf("params[1] = %+v", params[1])
	}

	none, err := ParseADL([]byte(`<applicationSet><splApplication name="a"/></applicationSet>`))
	if err != nil {
		t.Fatalf("ParseADL() error = %v", err)
	}
	if none != nil {
		t.Errorf("ParseADL() = %v, want nil without submissionTimeValues", none)
	}

	if _, err := ParseADL([]byte("not xml")); err == nil {
		t.Error("ParseADL() error = nil for invalid document")
	}
}

func writeBundle(t *testing.T, name string, adl []byte) string {
	t.Helper()

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	entry := "output/" + name + ".adl"
	if err := tw.WriteHeader(&tar.Header{Name: entry, Mode: 0o644, Size: int64(len(adl))}); err != nil {
		t.Fatal(err)
	}
	tw.Write(adl)
	tw.Close()

	path := filepath.Join(t.TempDir(), name+".sab")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("tar/bundle.tar")
	if err != nil {
		t.Fatal(err)
	}
	w.Write(tarBuf.Bytes())
	zw.Close()
	f.Close()
	return path
}

func TestADLFromBundle(t *testing.T) {
	path := writeBundle(t, "ns.Main", []byte(sampleADL))

	data, err := ADLFromBundle(path)
	if err != nil {
		t.Fatalf("ADLFromBundle() error = %v", err)
	}
	if string(data) != sampleADL {
		t.Errorf("ADLFromBundle() = %q", data)
	}
}

func TestADLFromBundle_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.sab")
	f, _ := os.Create(path)
	zw := zip.NewWriter(f)
	zw.Create("manifest.json")
	zw.Close()
	f.Close()

	if _, err := ADLFromBundle(path); !errors.Is(err, ErrNoADL) {
		t.Errorf("ADLFromBundle() error = %v, want ErrNoADL", err)
	}
}
