package streams

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/lei/streams-build/internal/models"
)

// ErrNoADL is returned when a bundle carries no application description
var ErrNoADL = errors.New("application bundle has no adl")

type adlDocument struct {
	SplApplication struct {
		Name                 string `xml:"name,attr"`
		SubmissionTimeValues *struct {
			Values []struct {
				Name         string `xml:"name,attr"`
				Kind         string `xml:"kind,attr"`
				Required     string `xml:"required,attr"`
				DefaultValue string `xml:"defaultValue,attr"`
			} `xml:"submissionTimeValue"`
		} `xml:"submissionTimeValues"`
	} `xml:"splApplication"`
}

// ParseADL returns the submission-time parameters an application declares.
// A nil result means the application has no submissionTimeValues block.
func ParseADL(data []byte) ([]models.SubmissionTimeParam, error) {
	var doc adlDocument
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse adl: %w", err)
	}

	stv := doc.SplApplication.SubmissionTimeValues
	if stv == nil {
		return nil, nil
	}
	params := make([]models.SubmissionTimeParam, 0, len(stv.Values))
	for _, v := range stv.Values {
		params = append(params, models.SubmissionTimeParam{
			Name:         v.Name,
			Kind:         v.Kind,
			Required:     v.Required == "true",
			DefaultValue: v.DefaultValue,
		})
	}
	return params, nil
}

// ADLFromBundle extracts the ADL of a .sab application bundle. The bundle
// is a zip holding tar/bundle.tar, whose output/<name>.adl entry is the
// description; an .adl entry at zip level is accepted as well.
func ADLFromBundle(bundlePath string) ([]byte, error) {
	zr, err := zip.OpenReader(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	defer zr.Close()

	want := strings.TrimSuffix(filepath.Base(bundlePath), ".sab") + ".adl"

	for _, f := range zr.File {
		switch {
		case f.Name == "tar/bundle.tar":
			data, err := adlFromTar(f, want)
			if err != nil && !errors.Is(err, ErrNoADL) {
				return nil, err
			}
			if data != nil {
				return data, nil
			}
		case strings.HasSuffix(f.Name, ".adl"):
			return readZipEntry(f)
		}
	}
	return nil, ErrNoADL
}

func adlFromTar(f *zip.File, want string) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open bundle tar: %w", err)
	}
	defer rc.Close()

	var fallback []byte
	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read bundle tar: %w", err)
		}
		if path.Ext(hdr.Name) != ".adl" || path.Base(path.Dir(hdr.Name)) != "output" {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read adl: %w", err)
		}
		if path.Base(hdr.Name) == want {
			return data, nil
		}
		if fallback == nil {
			fallback = data
		}
	}
	if fallback == nil {
		return nil, ErrNoADL
	}
	return fallback, nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
