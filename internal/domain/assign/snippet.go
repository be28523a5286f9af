package assign

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/splitlab/splitlab/internal/domain/model"
)

// SnippetConfig describes one experiment for snippet generation.
type SnippetConfig struct {
	ExperimentID string
	Variants     []model.Variant
	// Endpoint receives event POSTs, e.g. "https://host/events" or "/events".
	Endpoint string
}

// snippetVariant is the wire shape of a variant inside the generated script.
type snippetVariant struct {
	ID     string  `json:"id"`
	Weight float64 `json:"weight"`
}

// snippetTemplate is the self-contained tracking script. Contract:
//   - sticky per-session assignment via sessionStorage
//   - cumulative-weight selection identical to Pick, fallback to the first
//     variant when weights sum below 1
//   - a body class "ab-variant-<id>" so variant styling can be toggled
//   - one automatic visit event per session
//   - a global trackConversion(metric) for the page's UI code
var snippetTemplate = template.Must(template.New("snippet").Parse(`<script>
(function() {
  var EXPERIMENT = {{.ExperimentID}};
  var VARIANTS = {{.Variants}};
  var ENDPOINT = {{.Endpoint}};
  var KEY = "splitlab:" + EXPERIMENT;

  function send(type, variant, metric) {
    var payload = {
      experiment_id: EXPERIMENT,
      variant_id: variant,
      type: type
    };
    if (metric) payload.metric = metric;
    if (window.crypto && crypto.randomUUID) payload.event_id = crypto.randomUUID();
    try {
      navigator.sendBeacon
        ? navigator.sendBeacon(ENDPOINT, new Blob([JSON.stringify(payload)], {type: "application/json"}))
        : fetch(ENDPOINT, {method: "POST", headers: {"Content-Type": "application/json"}, body: JSON.stringify(payload), keepalive: true});
    } catch (e) { /* tracking must never break the page */ }
  }

  function pick() {
    var r = Math.random();
    var cumulative = 0;
    for (var i = 0; i < VARIANTS.length; i++) {
      cumulative += VARIANTS[i].weight;
      if (r < cumulative) return VARIANTS[i].id;
    }
    return VARIANTS[0].id;
  }

  var assigned = null;
  try { assigned = sessionStorage.getItem(KEY); } catch (e) {}
  var firstVisit = !assigned;
  if (!assigned) {
    assigned = pick();
    try { sessionStorage.setItem(KEY, assigned); } catch (e) {}
  }

  function mark() { document.body.classList.add("ab-variant-" + assigned); }
  if (document.body) { mark(); } else {
    document.addEventListener("DOMContentLoaded", mark);
  }

  if (firstVisit) send("visit", assigned);

  window.trackConversion = function(metric) {
    send("conversion", assigned, metric);
  };
})();
</script>
`))

// Snippet renders the tracking snippet for an experiment. The returned string
// is a complete <script> block to be embedded in each rendered variant page.
func Snippet(cfg SnippetConfig) (string, error) {
	variants := make([]snippetVariant, len(cfg.Variants))
	for i, v := range cfg.Variants {
		variants[i] = snippetVariant{ID: v.ID, Weight: v.Weight}
	}
	variantsJSON, err := json.Marshal(variants)
	if err != nil {
		return "", fmt.Errorf("marshal variants: %w", err)
	}
	experimentJSON, err := json.Marshal(cfg.ExperimentID)
	if err != nil {
		return "", fmt.Errorf("marshal experiment id: %w", err)
	}
	endpointJSON, err := json.Marshal(cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("marshal endpoint: %w", err)
	}

	var b strings.Builder
	data := struct {
		ExperimentID string
		Variants     string
		Endpoint     string
	}{
		ExperimentID: string(experimentJSON),
		Variants:     string(variantsJSON),
		Endpoint:     string(endpointJSON),
	}
	if err := snippetTemplate.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render snippet: %w", err)
	}
	return b.String(), nil
}
