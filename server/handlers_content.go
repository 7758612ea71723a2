package server

import (
	"net/http"
)

// POST /api/courses {title, topic, audience}
func (s *Server) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	var req CreateCourseRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	course, err := s.content.CreateCourse(r.Context(), ownerFrom(r.Context()), req.Title, req.Topic, req.Audience)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, course)
}

// GET /api/courses
func (s *Server) handleListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := s.content.ListCourses(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"courses": courses, "count": len(courses)})
}

// GET /api/courses/{id}
func (s *Server) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	course, err := s.content.GetCourse(r.Context(), ownerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, course)
}

// POST /api/courses/{id}/lessons {title, durationMinutes}
func (s *Server) handleCreateLesson(w http.ResponseWriter, r *http.Request) {
	var req CreateLessonRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	lesson, err := s.content.CreateLesson(r.Context(), ownerFrom(r.Context()), r.PathValue("id"), req.Title, req.DurationMinutes)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lesson)
}

// GET /api/courses/{id}/lessons
func (s *Server) handleListLessons(w http.ResponseWriter, r *http.Request) {
	lessons, err := s.content.ListLessons(r.Context(), ownerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"lessons": lessons, "count": len(lessons)})
}

// GET /api/lessons/{id}
func (s *Server) handleGetLesson(w http.ResponseWriter, r *http.Request) {
	lesson, err := s.content.GetLesson(r.Context(), ownerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lesson)
}

// GET /api/lessons/{id}/variations
func (s *Server) handleListVariations(w http.ResponseWriter, r *http.Request) {
	variations, err := s.content.ListVariations(r.Context(), ownerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"variations": variations, "count": len(variations)})
}

// GET /api/variations/{id}
func (s *Server) handleGetVariation(w http.ResponseWriter, r *http.Request) {
	v, err := s.content.GetVariation(r.Context(), ownerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GET /api/variations/{id}/versions
func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.content.Versions(r.Context(), ownerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"versions": versions, "count": len(versions)})
}

// handleAddVersion saves an edited body as the next version.
// POST /api/variations/{id}/versions {body}
func (s *Server) handleAddVersion(w http.ResponseWriter, r *http.Request) {
	var req AddVersionRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	version, err := s.content.AddVersion(r.Context(), ownerFrom(r.Context()), r.PathValue("id"), req.Body)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, version)
}

// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.getState()
	resp := HealthResponse{Status: "ok", State: state.String()}
	if s.hub != nil {
		resp.WSClients = s.hub.ClientCount()
	}
	status := http.StatusOK
	if state != ServerStateRunning {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
