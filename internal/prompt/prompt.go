// Package prompt holds the fixed instruction texts sent to the generator and
// the canned messages shown to clients. Values are immutable after Default
// returns; callers receive copies.
package prompt

import "strings"

// Set is the complete instruction configuration injected into the orchestrator.
type Set struct {
	// Base applies to every generator call and defines the response contract.
	Base string
	// Greeting is appended for the scripted first call of a session.
	Greeting string
	// Turn is appended for calls driven by client messages.
	Turn string
	// GreetingUserText stands in for the client's text on the first call.
	GreetingUserText string
}

// GreetingInstructions returns the full instruction text for the first call.
func (s Set) GreetingInstructions() string {
	return join(s.Base, s.Greeting)
}

// TurnInstructions returns the full instruction text for client-driven calls.
func (s Set) TurnInstructions() string {
	return join(s.Base, s.Turn)
}

// Messages are the user-facing texts the orchestrator emits on its own.
type Messages struct {
	Greeting    string
	Apology     string
	Warning     string
	Closing     string
	RateLimited string
	BadRequest  string
}

func join(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

// DefaultMessages returns the Spanish messages the service ships with.
func DefaultMessages() Messages {
	return Messages{
		Greeting:    "Hola, ¿en qué puedo ayudarte?",
		Apology:     "Lo siento, estoy teniendo problemas para procesar tu mensaje. ¿Podrías intentarlo de nuevo?",
		Warning:     "¿Sigues ahí? ¿En qué puedo ayudarte?",
		Closing:     "No he recibido respuesta. Cerrando la sesión...",
		RateLimited: "Estás enviando mensajes muy rápido. Espera un momento antes de continuar.",
		BadRequest:  "No pude leer tu mensaje.",
	}
}

// Default returns the instruction set the service ships with.
func Default() Set {
	return Set{
		Base:             baseInstructions,
		Greeting:         greetingInstructions,
		Turn:             turnInstructions,
		GreetingUserText: "Hola, ¿en qué puedo ayudarte?",
	}
}

const contractFormat = "```json\n" + `{
  "data": {
    "items": [
      {
        "name": "nombre del material",
        "description": "descripción detallada",
        "quantity": "cantidad"
      }
    ],
    "address": "dirección de entrega",
    "payment_method": "método de pago"
  },
  "message": "tu respuesta al cliente"
}` + "\n```"

const baseInstructions = `Eres un asistente de cotizaciones amable y conversacional.
Debes obtener del cliente, de manera natural:
- Los materiales que necesita (nombre, descripción y cantidad)
- La dirección de entrega
- El método de pago preferido

Si falta información, guía al cliente para obtenerla. No preguntes por datos que ya tenemos.
Cuando tengas todo, genera un resumen de la cotización.

Tu respuesta debe seguir EXACTAMENTE este formato:
` + contractFormat + `

En "data" incluye la lista completa de materiales vigente cada vez que cambie, y solo los
demás campos que el cliente haya dado o confirmado. "message" es tu respuesta natural al cliente.`

const greetingInstructions = `Es el inicio de la conversación: saluda al cliente y pregúntale qué materiales necesita.`

const turnInstructions = `Prioridades, en orden:
1. MATERIALES: cuando el cliente mencione un material, obtén su cantidad. Eres el gestor de la
   lista: si el cliente quiere agregar, quitar o cambiar un material, devuelve la lista completa
   ya actualizada. Atiende palabras como "agregar", "cambiar", "quitar" o "también".
2. DIRECCIÓN: con los materiales definidos, pide la dirección de entrega.
3. MÉTODO DE PAGO: con la dirección definida, pide el método de pago.
4. CONFIRMACIÓN: con los tres datos, pregunta si es todo. Si el cliente quiere cambiar algo,
   actualízalo y vuelve a preguntar. Ante una respuesta afirmativa ("sí", "eso es todo",
   "listo", "correcto" o similar) genera el resumen de la cotización.`
