package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"gorm.io/gorm"

	"github.com/opsdeck/termbridge/internal/database"
)

// Saved-server inventory. These endpoints manage bookmarks only; the relay
// never dials a saved server on its own, credentials always arrive over the
// WebSocket.

type serverRequest struct {
	Alias    string `json:"alias"`
	Hostname string `json:"hostname"`
	Port     uint16 `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	GroupID  *uint  `json:"group_id"`
	Remark   string `json:"remark"`
}

func ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := database.ListGroups()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list groups")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"groups": groups})
}

func CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "Group name is required")
		return
	}
	g := database.SSHGroup{Name: req.Name}
	if err := database.CreateGroup(&g); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create group")
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func DeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "groupId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid group ID")
		return
	}
	if err := database.DeleteGroup(id); err != nil {
		if err == gorm.ErrRecordNotFound {
			writeError(w, http.StatusNotFound, "Group not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func ListServers(w http.ResponseWriter, r *http.Request) {
	var groupID *uint
	if raw := r.URL.Query().Get("group_id"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid group_id")
			return
		}
		id := uint(v)
		groupID = &id
	}
	servers, err := database.ListServers(groupID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list servers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"servers": servers})
}

func GetServer(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "serverId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	s, err := database.GetServer(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func CreateServer(w http.ResponseWriter, r *http.Request) {
	var req serverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Hostname == "" || req.Username == "" {
		writeError(w, http.StatusBadRequest, "Hostname and username are required")
		return
	}
	if req.Port == 0 {
		req.Port = 22
	}

	s := database.SSHServer{
		Alias:    req.Alias,
		Hostname: req.Hostname,
		Port:     req.Port,
		Username: req.Username,
		Password: req.Password,
		GroupID:  req.GroupID,
		Remark:   req.Remark,
	}
	if err := database.CreateServer(&s); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create server")
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func UpdateServer(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "serverId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	s, err := database.GetServer(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}

	var req serverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Alias != "" {
		s.Alias = req.Alias
	}
	if req.Hostname != "" {
		s.Hostname = req.Hostname
	}
	if req.Port != 0 {
		s.Port = req.Port
	}
	if req.Username != "" {
		s.Username = req.Username
	}
	if req.Password != "" {
		s.Password = req.Password
	}
	if req.GroupID != nil {
		s.GroupID = req.GroupID
	}
	if req.Remark != "" {
		s.Remark = req.Remark
	}

	if err := database.UpdateServer(s); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update server")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func DeleteServer(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "serverId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	if _, err := database.GetServer(id); err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}
	if err := database.DeleteServer(id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete server")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
