package workflow

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/lei/streams-build/internal/action"
	"github.com/lei/streams-build/internal/models"
	"github.com/lei/streams-build/internal/provider"
	"github.com/lei/streams-build/internal/scheduler"
	"github.com/lei/streams-build/internal/state"
)

const paramsADL = `<?xml version="1.0" encoding="UTF-8"?>
<applicationSet xmlns="http://www.ibm.com/xmlns/prod/streams/application/v4200">
  <splApplication name="Main">
    <submissionTimeValues>
      <submissionTimeValue name="topic" kind="named" required="true"/>
      <submissionTimeValue name="rate" kind="named" required="false" defaultValue="10"/>
    </submissionTimeValues>
  </splApplication>
</applicationSet>`

func TestSubmitStatusLoop(t *testing.T) {
	tests := []struct {
		status  models.SubmissionStatus
		repolls bool
	}{
		{models.SubmissionCreated, true},
		{models.SubmissionJobSubmitting, true},
		{models.SubmissionJobRegistering, true},
		{models.SubmissionBundleUploading, true},
		{models.SubmissionJobSubmitted, false},
		{models.SubmissionJobSubmitFailed, false},
		{"job.somethingNew", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			p := &fakeProvider{
				submission: func(id string) (models.SubmissionInfo, error) {
					return models.SubmissionInfo{ID: id, Status: tt.status}, nil
				},
			}
			h := newHarness(t, p, authedState())

			h.eng.Dispatch(action.GetSubmitStatus{SubmissionID: "s1"})
			h.waitFor(action.KindSubmitStatusReceived, 1)

			want := 1
			if tt.repolls {
				want = 2
				h.clock.BlockUntil(1)
				h.clock.Advance(scheduler.DefaultTimings().PollInterval)
				h.waitFor(action.KindGetSubmitStatus, 2)
			} else {
				h.clock.Advance(scheduler.DefaultTimings().PollInterval)
			}
			h.settle()

			if got := h.count(action.KindGetSubmitStatus); got != want {
				t.Errorf("GET_SUBMIT_STATUS = %d, want %d", got, want)
			}
		})
	}
}

func TestSubmitStatus_EmitOrder(t *testing.T) {
	h := newHarness(t, &fakeProvider{}, authedState())

	h.eng.Dispatch(action.GetSubmitStatus{SubmissionID: "s1", BuildID: "7"})
	h.waitFor(action.KindSubmitStatusReceived, 1)

	want := []action.Kind{
		action.KindGetSubmitStatus,
		action.KindSubmitStatusFulfilled,
		action.KindSubmitLogFulfilled,
		action.KindSubmitStatusReceived,
	}
	kinds := h.kinds()
	for i, k := range want {
		if i >= len(kinds) || kinds[i] != k {
			t.Fatalf("kinds = %v, want prefix %v", kinds, want)
		}
	}
	if sub, _ := state.GetSubmission(h.eng.State(), "s1"); sub.BuildID != "7" {
		t.Errorf("submission build id = %q, want 7", sub.BuildID)
	}
}

func TestParamsFromADL_NoParams(t *testing.T) {
	s := withBuild(authedState(), "7", "/p", models.Artifact{ID: "a1", Name: "Main.sab", ApplicationBundle: "https://b/a1"})
	p := &fakeProvider{}
	ui := &recordingUI{}
	h := newHarness(t, p, s, func(d *Deps) { d.Prompter = ui })

	h.eng.Dispatch(action.GetSubmissionParamsFromADL{BuildID: "7"})
	got := h.waitFor(action.KindSubmitApplications, 1)[0].(action.SubmitApplications)
	h.waitFor(action.KindSubmitStatusReceived, 1)

	if got.Params == nil || len(got.Params) != 0 {
		t.Errorf("Params = %#v, want empty non-nil", got.Params)
	}
	if n := h.count(action.KindAwaitSubmissionParams); n != 0 {
		t.Errorf("WAITING_FOR_SUBMISSION_TIME_PARAMETERS = %d, want 0", n)
	}
}

func TestParamsFromADL_SuspendAndResumeOnce(t *testing.T) {
	s := withBuild(authedState(), "7", "/p",
		models.Artifact{ID: "a1", Name: "Main.sab", ApplicationBundle: "https://b/a1"},
		models.Artifact{ID: "a2", Name: "Other.sab", ApplicationBundle: "https://b/a2"},
	)
	var submitted []provider.SubmitJobRequest
	p := &fakeProvider{
		adl: func(string, string) ([]byte, error) { return []byte(paramsADL), nil },
	}
	p.submitJob = func(req provider.SubmitJobRequest) (models.SubmissionInfo, error) {
		p.mu.Lock()
		submitted = append(submitted, req)
		id := fmt.Sprintf("s%d", len(submitted))
		p.mu.Unlock()
		return models.SubmissionInfo{ID: id}, nil
	}
	ui := &recordingUI{}
	h := newHarness(t, p, s, func(d *Deps) { d.Prompter = ui })

	h.eng.Dispatch(action.GetSubmissionParamsFromADL{BuildID: "7"})
	await := h.waitFor(action.KindAwaitSubmissionParams, 1)[0].(action.AwaitSubmissionParams)

	if len(await.Params) != 2 {
		t.Fatalf("declared params = %v, want topic and rate merged once", await.Params)
	}
	req, ok := state.GetParamRequest(h.eng.State(), await.WorkflowID)
	if !ok || req.Status != state.ParamsAwaiting {
		t.Fatalf("param request = %+v, %v, want awaiting", req, ok)
	}
	h.settle()
	ui.mu.Lock()
	prompted := len(ui.prompts)
	ui.mu.Unlock()
	if prompted != 1 {
		t.Errorf("prompts = %d, want 1", prompted)
	}

	values := []models.SubmitParameter{{Name: "topic", Value: "orders"}, {Name: "rate", Value: "10"}}
	h.eng.Dispatch(
		action.ResolveSubmissionParams{WorkflowID: await.WorkflowID, Values: values},
		action.ResolveSubmissionParams{WorkflowID: await.WorkflowID, Values: values},
	)
	h.waitFor(action.KindClearSubmissionParams, 1)
	h.waitFor(action.KindSubmitStatusReceived, 2)
	h.settle()

	if n := h.count(action.KindSubmitApplications); n != 1 {
		t.Errorf("SUBMIT_APPLICATIONS = %d, want 1", n)
	}
	if _, ok := state.GetParamRequest(h.eng.State(), await.WorkflowID); ok {
		t.Error("param request still present after resume")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(submitted) != 2 {
		t.Fatalf("SubmitJob calls = %d, want 2", len(submitted))
	}
	for _, req := range submitted {
		if len(req.Params) != 2 || req.BearerToken != "instance-token" {
			t.Errorf("SubmitJob request = %+v", req)
		}
	}
}

func TestCancelSubmissionParams(t *testing.T) {
	s := withBuild(authedState(), "7", "/p", models.Artifact{ID: "a1", Name: "Main.sab"})
	p := &fakeProvider{
		adl: func(string, string) ([]byte, error) { return []byte(paramsADL), nil },
	}
	h := newHarness(t, p, s)

	h.eng.Dispatch(action.GetSubmissionParamsFromADL{BuildID: "7"})
	await := h.waitFor(action.KindAwaitSubmissionParams, 1)[0].(action.AwaitSubmissionParams)

	h.eng.Dispatch(
		action.CancelSubmissionParams{WorkflowID: await.WorkflowID},
		action.ResolveSubmissionParams{WorkflowID: await.WorkflowID},
	)
	h.waitFor(action.KindResolveSubmissionParams, 1)
	h.settle()

	if n := h.count(action.KindSubmitApplications); n != 0 {
		t.Errorf("SUBMIT_APPLICATIONS = %d, want 0", n)
	}
}

// writeSAB writes a bundle whose inner tar carries adl as output/<name>.adl
func writeSAB(t *testing.T, dir, name, adl string) string {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	if adl != "" {
		if err := tw.WriteHeader(&tar.Header{Name: "output/" + name + ".adl", Mode: 0o644, Size: int64(len(adl))}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(adl)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, name+".sab")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	w, err := zw.Create("tar/bundle.tar")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(tarBuf.Bytes()); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParamsFromBundles(t *testing.T) {
	dir := t.TempDir()
	plain := writeSAB(t, dir, "Plain", "")
	withParams := writeSAB(t, dir, "Params", paramsADL)

	p := &fakeProvider{
		uploadBundle: func(path string) (string, error) {
			return filepath.Base(path), nil
		},
	}
	h := newHarness(t, p, authedState())

	h.eng.Dispatch(action.GetSubmissionParamsFromBundles{Bundles: []models.Bundle{
		{Path: plain, JobGroup: "etl"},
		{Path: withParams, JobName: "params-job"},
	}})

	submit := h.waitFor(action.KindSubmitFromBundle, 1)[0].(action.SubmitFromBundle)
	if submit.BundleID != "Plain.sab" || submit.JobName != "Plain" || submit.JobGroup != "etl" {
		t.Errorf("SubmitFromBundle = %+v", submit)
	}

	await := h.waitFor(action.KindAwaitSubmissionParams, 1)[0].(action.AwaitSubmissionParams)
	if await.Source != action.ParamSourceBundle || await.BundleID != "Params.sab" || await.JobName != "params-job" {
		t.Errorf("AwaitSubmissionParams = %+v", await)
	}

	h.eng.Dispatch(action.ResolveSubmissionParams{
		WorkflowID: await.WorkflowID,
		Values:     []models.SubmitParameter{{Name: "topic", Value: "orders"}},
	})
	resumed := h.waitFor(action.KindSubmitFromBundle, 2)[1].(action.SubmitFromBundle)
	if resumed.BundleID != "Params.sab" || len(resumed.Params) != 1 {
		t.Errorf("resumed SubmitFromBundle = %+v", resumed)
	}
	h.waitFor(action.KindSubmitStatusReceived, 2)
}

func TestMergeParams(t *testing.T) {
	a := []models.SubmissionTimeParam{{Name: "topic", Required: true}, {Name: "rate"}}
	b := []models.SubmissionTimeParam{{Name: "rate", DefaultValue: "5"}, {Name: "group"}}

	got := mergeParams(a, nil, b)
	if len(got) != 3 {
		t.Fatalf("mergeParams() = %v, want 3 params", got)
	}
	if got[1].Name != "rate" || got[1].DefaultValue != "" {
		t.Errorf("mergeParams() kept %+v, want the first rate", got[1])
	}
}
