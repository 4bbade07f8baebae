package state

import "github.com/lei/streams-build/internal/action"

func reduceSubmission(s SubmissionSlice, a action.Action, version uint64) SubmissionSlice {
	switch a := a.(type) {
	case action.SubmitStatusFulfilled:
		s.Submissions = cloneMap(s.Submissions)
		sub := s.Submissions[a.SubmissionID]
		sub.ID = a.SubmissionID
		sub.Status = a.Info.Status
		if a.BuildID != "" {
			sub.BuildID = a.BuildID
		}
		if a.Info.Job != "" {
			sub.Job = a.Info.Job
		}
		if a.Info.Name != "" {
			sub.Name = a.Info.Name
		}
		s.Submissions[a.SubmissionID] = sub
	case action.SubmitLogFulfilled:
		s.Submissions = cloneMap(s.Submissions)
		sub := s.Submissions[a.SubmissionID]
		sub.ID = a.SubmissionID
		sub.LogMessages = cloneSlice(a.Messages)
		s.Submissions[a.SubmissionID] = sub
	case action.AwaitSubmissionParams:
		s.Params = cloneMap(s.Params)
		s.Params[a.WorkflowID] = ParamRequest{
			WorkflowID:  a.WorkflowID,
			Source:      a.Source,
			BuildID:     a.BuildID,
			BundleID:    a.BundleID,
			JobGroup:    a.JobGroup,
			JobName:     a.JobName,
			Params:      cloneSlice(a.Params),
			Status:      ParamsAwaiting,
			RequestedAt: version,
		}
	case action.ResolveSubmissionParams:
		req, ok := s.Params[a.WorkflowID]
		if !ok || req.Status != ParamsAwaiting {
			return s
		}
		req.Status = ParamsResolved
		req.Values = cloneSlice(a.Values)
		req.ResolvedAt = version
		s.Params = cloneMap(s.Params)
		s.Params[a.WorkflowID] = req
	case action.CancelSubmissionParams:
		s.Params = deleteParam(s.Params, a.WorkflowID)
	case action.ClearSubmissionParams:
		s.Params = deleteParam(s.Params, a.WorkflowID)
	}
	return s
}

func deleteParam(m map[string]ParamRequest, id string) map[string]ParamRequest {
	if _, ok := m[id]; !ok {
		return m
	}
	m = cloneMap(m)
	delete(m, id)
	return m
}
