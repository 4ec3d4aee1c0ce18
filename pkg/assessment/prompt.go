package assessment

// SimpleTestPrompt checks whether the model can see an image at all
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt asks for a structured agronomic assessment of one photo set.
// Images are attached in the order drone, 3 m horizontal, 3 m vertical, 0.5 m close-up.
const DefaultPrompt = `You are an agronomist specialising in paddy rice.
You are given FOUR photos of the same rice field, taken at the same time:
  Image 1: top-down drone view of the canopy.
  Image 2: side view along a 3 m horizontal transect (rows run left to right).
  Image 3: side view along a 3 m vertical transect (plants within one row).
  Image 4: side close-up of a single hill from 0.5 m.
A white reference board is visible in the side views.

Return ONE JSON object and nothing else:
{
  "analysis": {
    "description": "growth status of the crop, 2-4 sentences",
    "suggestions": "concrete field management advice"
  },
  "metrics": {
    "estimated_row_spacing_cm": 0.0,
    "estimated_plant_spacing_cm": 0.0,
    "seedlings_per_mu": 0,
    "panicle_count_in_1m_sample": 0,
    "panicles_per_mu": 0,
    "pest_risk": "Low | Moderate | High | Visible Evidence",
    "leaf_color_health": "Healthy Green | Yellowish | Dark Green | Uneven",
    "lodging_status": "None | Slight | Moderate | Severe",
    "estimated_leaf_age": 0.0,
    "estimated_tillers_per_plant": 0.0
  }
}

RULES
- Row spacing comes from Image 2, plant spacing from Image 3, both in centimetres.
- 1 mu = 666.67 m2. seedlings_per_mu = 666.67 * 10000 / (row_spacing_cm * plant_spacing_cm).
- Count panicles along 1 m of row in Image 2 as panicle_count_in_1m_sample, then
  panicles_per_mu = panicle_count_in_1m_sample * (666.67 * 100 / row_spacing_cm).
- estimated_leaf_age is the leaf age of the main stem; estimated_tillers_per_plant is per hill.
- Use exactly one of the listed words for pest_risk, leaf_color_health and lodging_status.
- If a value cannot be judged from the photos, use null. Do not guess.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`
