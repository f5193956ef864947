package handlers

import "github.com/gofiber/fiber/v2"

// Page renders one of the screen templates, binding the signed-in user
// when there is a session.
func (h *Handlers) Page(name string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		bind := fiber.Map{}
		if s, ok := h.session(c); ok {
			bind["User"] = s.User()
		}
		return c.Render(name, bind)
	}
}
